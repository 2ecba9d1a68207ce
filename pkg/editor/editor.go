// Package editor lets an operator pick exclusions interactively and save the
// investigated mapping over an existing one.
package editor

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/pterm/pterm"

	"github.com/strato3003/jimny/pkg/compare"
	"github.com/strato3003/jimny/pkg/export"
	"github.com/strato3003/jimny/pkg/models"
)

const doneOption = "Done"

// ErrCancelled is returned when the operator picked nothing
var ErrCancelled = errors.New("cancelled")

// Prompter asks the operator questions
type Prompter interface {
	Select(title string, options []string) (string, error)
	Confirm(question string) (bool, error)
}

// Terminal prompts through pterm's interactive printers
type Terminal struct{}

func (Terminal) Select(title string, options []string) (string, error) {
	return pterm.DefaultInteractiveSelect.
		WithOptions(options).
		WithMaxHeight(15).
		Show(title)
}

func (Terminal) Confirm(question string) (bool, error) {
	return pterm.DefaultInteractiveConfirm.Show(question)
}

// Option is one selectable exclusion
type Option struct {
	Label     string
	Exclusion models.Exclusion
}

// ExclusionOptions lists the assigned fields of table, worst error first
func ExclusionOptions(table compare.Table) []Option {
	rows := make([]compare.Row, 0, len(table))
	for _, r := range table {
		if r.Assigned {
			rows = append(rows, r)
		}
	}
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].Error() > rows[j].Error()
	})

	out := make([]Option, len(rows))
	for i, r := range rows {
		m := r.Mapping
		label := fmt.Sprintf("%-28s %-8s %-12s err %.4f", r.Field, m.Slot, m.Transform.Describe(), m.Error)
		if m.Override {
			label += " (override)"
		}
		out[i] = Option{Label: label, Exclusion: models.Exclusion{Field: r.Field, Slot: m.Slot}}
	}
	return out
}

// PickExclusions asks for one or more fields whose current slot should be
// excluded. Picking nothing returns ErrCancelled.
func PickExclusions(p Prompter, table compare.Table) ([]models.Exclusion, error) {
	options := ExclusionOptions(table)
	var picked []models.Exclusion

	for len(options) > 0 {
		labels := make([]string, 0, len(options)+1)
		for _, o := range options {
			labels = append(labels, o.Label)
		}
		labels = append(labels, doneOption)

		choice, err := p.Select("Exclude the current slot of:", labels)
		if err != nil {
			return nil, err
		}
		if choice == doneOption {
			break
		}

		i := indexOf(options, choice)
		if i < 0 {
			return nil, fmt.Errorf("unknown option %q", choice)
		}
		picked = append(picked, options[i].Exclusion)
		options = append(options[:i:i], options[i+1:]...)

		more, err := p.Confirm("Exclude another field?")
		if err != nil {
			return nil, err
		}
		if !more {
			break
		}
	}

	if len(picked) == 0 {
		return nil, ErrCancelled
	}
	return picked, nil
}

func indexOf(options []Option, label string) int {
	for i, o := range options {
		if o.Label == label {
			return i
		}
	}
	return -1
}

// CreateBackup creates a timestamped backup of the file
func CreateBackup(filename string) (string, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return "", err
	}

	timestamp := time.Now().Format("20060102_150405")
	backupName := filename + ".backup_" + timestamp
	err = os.WriteFile(backupName, data, 0644)
	if err != nil {
		return "", err
	}

	return backupName, nil
}

// SaveMapping writes a over filename after confirmation, backing up an
// existing file first. It reports whether the file was written.
func SaveMapping(p Prompter, filename string, a *models.Assignment) (bool, error) {
	ok, err := p.Confirm(fmt.Sprintf("Write the new mapping to %s?", filename))
	if err != nil || !ok {
		return false, err
	}

	if _, err := os.Stat(filename); err == nil {
		backup, err := CreateBackup(filename)
		if err != nil {
			return false, fmt.Errorf("failed to create backup: %w", err)
		}
		pterm.Success.Printf("Backup created: %s\n", backup)
	}

	if err := export.WriteMapping(filename, a); err != nil {
		return false, err
	}
	return true, nil
}
