package lrc

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"SimFed/internal/checkpoint"
	"SimFed/internal/hla"
	"SimFed/internal/logger"
	"SimFed/internal/sink"
	"SimFed/internal/wire"
)

// =============================================================================
// Save
// =============================================================================

// RequestFederationSave asks the RTI to save the federation under label.
func (l *LRC) RequestFederationSave(ctx context.Context, label string) error {
	if err := l.checkpointable(); err != nil {
		return err
	}

	if _, err := l.request(ctx, &wire.LabelMessage{Kind: wire.TypeRequestSave, Label: label}); err != nil {
		return fmt.Errorf("request save %q:\n%w", label, err)
	}

	return nil
}

// FederateSaveBegun reports the federate started saving.
func (l *LRC) FederateSaveBegun(ctx context.Context) error {
	label, err := l.activeSave()
	if err != nil {
		return err
	}

	if _, err := l.request(ctx, &wire.LabelMessage{Kind: wire.TypeSaveBegun, Label: label}); err != nil {
		return fmt.Errorf("save begun %q:\n%w", label, err)
	}

	return nil
}

// FederateSaveComplete writes the federate checkpoint, stores it and reports
// its signed digest. A checkpoint that cannot be written is reported as a
// failed save and the error returned.
func (l *LRC) FederateSaveComplete(ctx context.Context) error {
	label, err := l.activeSave()
	if err != nil {
		return err
	}

	l.mu.Lock()
	fed, fedName, name := l.fed, l.fedName, l.name
	l.mu.Unlock()

	start := time.Now()

	ckpt, err := l.writeCheckpoint(fedName, label, name)
	if err != nil {
		if _, nerr := l.request(ctx, &wire.LabelMessage{Kind: wire.TypeSaveNotComplete, Label: label}); nerr != nil {
			logger.Warn("could not report failed save", "label", label, "error", nerr)
		}

		return err
	}

	digest := ckpt.Digest()
	sig := l.key.Sign(checkpoint.Statement(fedName, label, fed, digest[:]))

	if _, err := l.request(ctx, &wire.LabelMessage{Kind: wire.TypeSaveComplete, Label: label, Digest: digest[:], Signature: sig}); err != nil {
		return fmt.Errorf("save complete %q:\n%w", label, err)
	}

	logger.Info("federate saved",
		"federation", fedName,
		"label", label,
		"federate", name,
		"bytes", len(ckpt.Data),
		logger.Timed(start),
	)

	return nil
}

// FederateSaveNotComplete reports the federate could not save.
func (l *LRC) FederateSaveNotComplete(ctx context.Context) error {
	label, err := l.activeSave()
	if err != nil {
		return err
	}

	if _, err := l.request(ctx, &wire.LabelMessage{Kind: wire.TypeSaveNotComplete, Label: label}); err != nil {
		return fmt.Errorf("save not complete %q:\n%w", label, err)
	}

	return nil
}

func (l *LRC) writeCheckpoint(federation, label, federate string) (checkpoint.Checkpoint, error) {
	man, err := l.manifest()
	if err != nil {
		return checkpoint.Checkpoint{}, err
	}

	ckpt, err := checkpoint.Write(man)
	if err != nil {
		return checkpoint.Checkpoint{}, fmt.Errorf("write checkpoint:\n%w", err)
	}

	if err := l.cfg.Store.Put(federation, label, federate, ckpt.Data); err != nil {
		return checkpoint.Checkpoint{}, fmt.Errorf("store checkpoint:\n%w", err)
	}

	return ckpt, nil
}

// manifest lists what a federate checkpoint holds: the local view, the time
// status, then the application components.
func (l *LRC) manifest() (*checkpoint.Manifest, error) {
	l.mu.Lock()
	components := []checkpoint.Component{l.repository, l.interest, timeState{l}}
	l.mu.Unlock()

	components = append(components, l.cfg.Components...)

	return checkpoint.NewManifest(components...)
}

func (l *LRC) checkpointable() error {
	if _, _, _, err := l.view(); err != nil {
		return err
	}

	if l.cfg.Store == nil {
		return hla.Errorf(hla.KindInternal, "checkpoint store disabled")
	}

	return nil
}

func (l *LRC) activeSave() (string, error) {
	if err := l.checkpointable(); err != nil {
		return "", err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.saving == "" {
		return "", hla.Errorf(hla.KindSaveNotInitiated, "%s", l.fed)
	}

	return l.saving, nil
}

// SaveInProgress returns the label of the active save, empty when none.
func (l *LRC) SaveInProgress() string {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.saving
}

func (l *LRC) onInitiateSave(ctx *sink.Context) error {
	m := ctx.Msg.(*wire.LabelMessage)

	l.mu.Lock()
	l.saving = m.Label
	l.mu.Unlock()

	label := m.Label
	l.callbacks.push("initiate-federate-save", func(a Ambassador) { a.InitiateFederateSave(label) })

	ctx.Success()

	return nil
}

func (l *LRC) onSaved(ctx *sink.Context) error {
	m := ctx.Msg.(*wire.LabelMessage)

	l.mu.Lock()
	l.saving = ""
	l.mu.Unlock()

	label, success := m.Label, m.Success
	l.callbacks.push("federation-saved", func(a Ambassador) { a.FederationSaved(label, success) })

	ctx.Success()

	return nil
}

// =============================================================================
// Restore
// =============================================================================

// RequestFederationRestore asks the RTI to restore the federation to a
// completed save. Concurrent requests resolve in favor of the lowest handle.
func (l *LRC) RequestFederationRestore(ctx context.Context, label string) error {
	if err := l.checkpointable(); err != nil {
		return err
	}

	if _, err := l.request(ctx, &wire.LabelMessage{Kind: wire.TypeRequestRestore, Label: label}); err != nil {
		return fmt.Errorf("request restore %q:\n%w", label, err)
	}

	return nil
}

// FederateRestoreComplete reports the federate finished restoring.
func (l *LRC) FederateRestoreComplete(ctx context.Context) error {
	label, err := l.activeRestore()
	if err != nil {
		return err
	}

	if _, err := l.request(ctx, &wire.LabelMessage{Kind: wire.TypeRestoreComplete, Label: label}); err != nil {
		return fmt.Errorf("restore complete %q:\n%w", label, err)
	}

	return nil
}

// FederateRestoreNotComplete reports the federate could not restore.
func (l *LRC) FederateRestoreNotComplete(ctx context.Context) error {
	label, err := l.activeRestore()
	if err != nil {
		return err
	}

	if _, err := l.request(ctx, &wire.LabelMessage{Kind: wire.TypeRestoreNotComplete, Label: label}); err != nil {
		return fmt.Errorf("restore not complete %q:\n%w", label, err)
	}

	return nil
}

func (l *LRC) activeRestore() (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.joinedLocked(); err != nil {
		return "", err
	}

	if l.restoring == "" {
		return "", hla.Errorf(hla.KindRestoreNotInitiated, "%s", l.fed)
	}

	return l.restoring, nil
}

// onInitiateRestore loads the federate checkpoint and takes the handle the
// federate had when it was saved. Initiations are addressed to the handle
// before the restore, so once renumbered a federate may see the one meant for
// another; only the first is applied.
func (l *LRC) onInitiateRestore(ctx *sink.Context) error {
	m := ctx.Msg.(*wire.LabelMessage)

	l.mu.Lock()
	if l.restoring == m.Label {
		l.mu.Unlock()
		ctx.Veto("restore already initiated")

		return nil
	}

	l.restoring = m.Label
	fedName, name := l.fedName, l.name
	l.mu.Unlock()

	err := l.loadCheckpoint(fedName, m.Label, name, m.Digest)

	l.mu.Lock()
	l.fed = m.Federate
	l.time.Federate = m.Federate
	l.time.Advancing = false
	l.tso, l.held = nil, nil
	l.announced = make(map[string]bool)
	l.mu.Unlock()

	if err != nil {
		logger.Error("restore failed", "federation", fedName, "label", m.Label, "federate", name, "error", err)

		if nerr := l.notify(&wire.LabelMessage{Kind: wire.TypeRestoreNotComplete, Label: m.Label}); nerr != nil {
			logger.Warn("could not report failed restore", "label", m.Label, "error", nerr)
		}

		ctx.Success()

		return nil
	}

	label, fed := m.Label, m.Federate
	l.callbacks.push("initiate-federate-restore", func(a Ambassador) { a.InitiateFederateRestore(label, fed) })

	ctx.Success()

	return nil
}

// loadCheckpoint restores every component from the stored checkpoint, after
// checking it against the digest recorded in the save certificate.
func (l *LRC) loadCheckpoint(federation, label, federate string, digest []byte) error {
	if l.cfg.Store == nil {
		return hla.Errorf(hla.KindInternal, "checkpoint store disabled")
	}

	data, err := l.cfg.Store.Get(federation, label, federate)
	if err != nil {
		return fmt.Errorf("load checkpoint:\n%w", err)
	}

	if data == nil {
		return hla.Errorf(hla.KindRestoreRequestFailed, "no checkpoint %q for %s", label, federate)
	}

	got := checkpoint.Checkpoint{Data: data}.Digest()
	if !bytes.Equal(got[:], digest) {
		return hla.Errorf(hla.KindRestoreRequestFailed, "checkpoint %q digest mismatch", label)
	}

	man, err := l.manifest()
	if err != nil {
		return err
	}

	if _, err := checkpoint.Read(man, data); err != nil {
		return fmt.Errorf("read checkpoint:\n%w", err)
	}

	return nil
}

func (l *LRC) onRestored(ctx *sink.Context) error {
	m := ctx.Msg.(*wire.LabelMessage)

	l.mu.Lock()
	l.restoring = ""
	l.mu.Unlock()

	label, success := m.Label, m.Success
	l.callbacks.push("federation-restored", func(a Ambassador) { a.FederationRestored(label, success) })

	ctx.Success()

	return nil
}

// =============================================================================
// Encoding
// =============================================================================

func marshalYAML(v any) ([]byte, error) {
	data, err := yaml.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal state:\n%w", err)
	}

	return data, nil
}

func unmarshalYAML(data []byte, v any) error {
	if err := yaml.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal state:\n%w", err)
	}

	return nil
}
