// Package audit provides PDR (Process Decision Record) writing for utimer.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/fentz26/utimer/internal/models"
)

// Recorder persists PDR entries. Both store backends implement it.
type Recorder interface {
	WritePDR(ctx context.Context, action, inputsHash, outcome, taskID, details string) (*models.PDREntry, error)
}

// Actions recorded by utimer.
const (
	ActionCreate  = "timer.create"
	ActionArm     = "timer.arm"
	ActionCancel  = "timer.cancel"
	ActionModify  = "timer.modify"
	ActionFire    = "timer.fire"
	ActionCleanup = "maintenance.cleanup"
)

// Outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// PDRWriter writes Process Decision Records for audit trails.
// A nil *PDRWriter records nothing.
type PDRWriter struct {
	rec Recorder
}

// NewPDRWriter creates a new PDR writer.
func NewPDRWriter(r Recorder) *PDRWriter {
	return &PDRWriter{rec: r}
}

// Record writes a PDR entry for a state-mutating action.
func (w *PDRWriter) Record(ctx context.Context, action string, inputs interface{}, outcome, taskID, details string) (*models.PDREntry, error) {
	if w == nil || w.rec == nil {
		return nil, nil
	}
	inputsHash := hashInputs(inputs)
	return w.rec.WritePDR(ctx, action, inputsHash, outcome, taskID, details)
}

// hashInputs creates a SHA256 hash of the inputs for reproducibility.
func hashInputs(inputs interface{}) string {
	data, err := json.Marshal(inputs)
	if err != nil {
		return "hash_error"
	}
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}
