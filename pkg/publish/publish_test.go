package publish

import (
	"errors"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/strato3003/jimny/pkg/export"
	"github.com/strato3003/jimny/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeToken struct {
	err     error
	expired bool
}

func (t *fakeToken) Wait() bool                     { return !t.expired }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return !t.expired }
func (t *fakeToken) Error() error                   { return t.err }

func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

type fakePublisher struct {
	sent []published
	fail map[string]*fakeToken
}

func (p *fakePublisher) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	p.sent = append(p.sent, published{topic, qos, retained, payload.([]byte)})
	if tok, ok := p.fail[topic]; ok {
		return tok
	}
	return &fakeToken{}
}

func assignment() *models.Assignment {
	a := models.NewAssignment([]models.Field{"engine_rpm", "speed_kmh"})
	a.Set(models.CandidateMapping{
		Field:     "engine_rpm",
		Slot:      models.Slot{Channel: "21A2", Offset: 12},
		Transform: models.FormulaTransform(models.Formula{Label: "raw*8", Mult: 8, Div: 1}),
		Samples:   42,
	})
	return a
}

func TestMessages(t *testing.T) {
	msgs, err := Messages("jimny/decoder/", assignment())
	require.NoError(t, err)
	require.Len(t, msgs, 3)

	assert.Equal(t, "jimny/decoder/mapping", msgs[0].Topic)
	var doc export.Document
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &doc))
	assert.Equal(t, "21A2", doc["engine_rpm"].Channel)
	assert.Equal(t, 12, doc["engine_rpm"].Offset)

	assert.Equal(t, "jimny/decoder/field/engine_rpm", msgs[1].Topic)
	var e export.Entry
	require.NoError(t, json.Unmarshal(msgs[1].Payload, &e))
	assert.Equal(t, 8.0, e.Mult)

	assert.Equal(t, "jimny/decoder/field/speed_kmh", msgs[2].Topic)
	assert.Empty(t, msgs[2].Payload)
}

func TestPublishRetainsEveryMessage(t *testing.T) {
	msgs, err := Messages("t", assignment())
	require.NoError(t, err)

	p := &fakePublisher{}
	require.NoError(t, Publish(p, msgs, 1, time.Second))
	require.Len(t, p.sent, len(msgs))
	for i, s := range p.sent {
		assert.Equal(t, msgs[i].Topic, s.topic)
		assert.True(t, s.retained)
		assert.Equal(t, byte(1), s.qos)
	}
}

func TestPublishCollectsErrors(t *testing.T) {
	msgs, err := Messages("t", assignment())
	require.NoError(t, err)

	boom := errors.New("not authorized")
	p := &fakePublisher{fail: map[string]*fakeToken{
		"t/mapping":         {err: boom},
		"t/field/speed_kmh": {expired: true},
	}}
	err = Publish(p, msgs, 0, time.Millisecond)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "t/field/speed_kmh: publish timed out")
	assert.Len(t, p.sent, 3)
}

func TestBrokerURL(t *testing.T) {
	assert.Equal(t, "tcp://localhost:1883", BrokerURL("localhost"))
	assert.Equal(t, "tcp://10.0.0.2:1884", BrokerURL("10.0.0.2:1884"))
	assert.Equal(t, "ssl://broker:8883", BrokerURL("ssl://broker:8883"))
}
