package rti

import (
	"encoding/hex"
	"fmt"
	"sort"

	"go.uber.org/multierr"

	"SimFed/internal/checkpoint"
	"SimFed/internal/hla"
	"SimFed/internal/logger"
	"SimFed/internal/saverestore"
	"SimFed/internal/sink"
	"SimFed/internal/wire"
)

func (r *RTI) checkpointsEnabled() error {
	if r.cfg.Store == nil {
		return hla.Errorf(hla.KindInternal, "checkpoint store disabled")
	}

	return nil
}

// =============================================================================
// Save
// =============================================================================

// requestSave initiates a federation save. The RTI writes and signs its own
// checkpoint first, so its entry heads every certificate.
func (r *RTI) requestSave(f *federation, fed hla.FederateHandle, ctx *sink.Context) error {
	m := ctx.Msg.(*wire.LabelMessage)

	if err := r.checkpointsEnabled(); err != nil {
		return err
	}

	if m.Label == "" {
		return hla.Errorf(hla.KindMalformedMessage, "empty save label")
	}

	if f.restore.Active() || f.restore.Pending() {
		return hla.Errorf(hla.KindRestoreInProgress, "cannot save %q", m.Label)
	}

	if err := f.save.Request(fed, m.Label); err != nil {
		return err
	}

	if err := r.saveOwnState(f, m.Label); err != nil {
		f.save.Reset()
		f.certificate = nil

		return hla.Wrap(hla.KindInternal, err, "save rti state")
	}

	if err := r.broadcast(f, &wire.LabelMessage{Kind: wire.TypeInitiateSave, Label: m.Label}); err != nil {
		f.save.Abort()
		r.finishSave(f)

		return hla.Wrap(hla.KindNotConnected, err, "initiate save")
	}

	logger.Info("save initiated",
		"federation", f.name,
		"label", m.Label,
		"by", fed,
		"federates", len(f.federates),
	)

	return nil
}

// saveOwnState writes the federation components and starts the certificate.
func (r *RTI) saveOwnState(f *federation, label string) error {
	man, err := f.manifest()
	if err != nil {
		return err
	}

	ckpt, err := checkpoint.Write(man)
	if err != nil {
		return err
	}

	if err := r.cfg.Store.Put(f.name, label, rtiName, ckpt.Data); err != nil {
		return err
	}

	digest := ckpt.Digest()
	sig := r.key.Sign(checkpoint.Statement(f.name, label, hla.RTIFederate, digest[:]))

	b := checkpoint.NewBuilder(f.name, label)
	if err := b.Add(hla.RTIFederate, rtiName, r.key.PublicKey(), digest[:], sig); err != nil {
		return fmt.Errorf("sign rti checkpoint:\n%w", err)
	}

	f.certificate = b

	return nil
}

func (r *RTI) saveBegun(f *federation, fed hla.FederateHandle, ctx *sink.Context) error {
	return f.save.Begun(fed)
}

// saveComplete verifies the federate's signature over its checkpoint digest.
// A bad signature counts as a failed save for that federate.
func (r *RTI) saveComplete(f *federation, fed hla.FederateHandle, ctx *sink.Context) error {
	m := ctx.Msg.(*wire.LabelMessage)

	if !f.save.Active() || m.Label != f.save.Label() {
		return hla.Errorf(hla.KindSaveNotInitiated, "label %q", m.Label)
	}

	if st := f.save.Status(fed); st.Terminal() {
		return hla.Errorf(hla.KindSaveNotInitiated, "%s already %s", fed, st)
	}

	member := f.federates[fed]

	if err := f.certificate.Add(fed, member.name, member.publicKey, m.Digest, m.Signature); err != nil {
		logger.Warn("rejected save signature",
			"federation", f.name,
			"label", m.Label,
			"federate", member.name,
			"error", err,
		)

		if nerr := f.save.NotComplete(fed); nerr != nil {
			return nerr
		}

		r.checkSaveDone(f)

		return hla.Wrap(hla.KindMalformedMessage, err, "save signature")
	}

	if err := f.save.Complete(fed); err != nil {
		return err
	}

	r.checkSaveDone(f)

	return nil
}

func (r *RTI) saveNotComplete(f *federation, fed hla.FederateHandle, ctx *sink.Context) error {
	if err := f.save.NotComplete(fed); err != nil {
		return err
	}

	r.checkSaveDone(f)

	return nil
}

func (r *RTI) checkSaveDone(f *federation) {
	if f.save.Active() && f.save.IsComplete() {
		r.finishSave(f)
	}
}

// finishSave stores the certificate of a successful save and reports the outcome.
// The checkpoints of a failed save are removed.
func (r *RTI) finishSave(f *federation) {
	label := f.save.Label()

	var err error
	for _, h := range f.save.Failed() {
		err = multierr.Append(err, fmt.Errorf("%s did not complete", h))
	}

	if err == nil {
		err = r.storeCertificate(f)
	}

	f.save.Reset()
	f.certificate = nil

	success := err == nil
	if success {
		logger.Info("federation saved", "federation", f.name, "label", label)
	} else {
		logger.Warn("federation save failed", "federation", f.name, "label", label, "error", err)

		if derr := r.cfg.Store.Delete(f.name, label); derr != nil {
			logger.Warn("could not drop failed save", "federation", f.name, "label", label, "error", derr)
		}
	}

	_ = r.broadcast(f, &wire.LabelMessage{Kind: wire.TypeFederationSaved, Label: label, Success: success})
}

func (r *RTI) storeCertificate(f *federation) error {
	if f.certificate == nil {
		return fmt.Errorf("no certificate in progress")
	}

	cert, err := f.certificate.Build()
	if err != nil {
		return err
	}

	return r.cfg.Store.PutCertificate(cert)
}

// =============================================================================
// Restore
// =============================================================================

// requestRestore validates a restore request and arms the settle window.
// Requests arriving within the window are resolved in favor of the lowest handle.
func (r *RTI) requestRestore(f *federation, fed hla.FederateHandle, ctx *sink.Context) error {
	m := ctx.Msg.(*wire.LabelMessage)

	if err := r.checkpointsEnabled(); err != nil {
		return err
	}

	if f.save.Active() {
		return hla.Errorf(hla.KindSaveInProgress, "cannot restore %q", m.Label)
	}

	cert, err := r.certificate(f, m.Label)
	if err != nil {
		return err
	}

	if _, err := f.restoreMapping(cert); err != nil {
		return err
	}

	if err := f.restore.Request(fed, m.Label); err != nil {
		return err
	}

	f.restore.InitiateAfter(r.cfg.SaveSettle, func(init saverestore.Initiation, err error) {
		r.initiateRestore(f, init, err)
	})

	logger.Info("restore requested", "federation", f.name, "label", m.Label, "by", fed)

	return nil
}

// certificate loads and verifies the certificate of a completed save.
func (r *RTI) certificate(f *federation, label string) (*checkpoint.Certificate, error) {
	cert, err := r.cfg.Store.Certificate(f.name, label)
	if err != nil {
		return nil, hla.Wrap(hla.KindRestoreRequestFailed, err, label)
	}

	if cert == nil {
		return nil, hla.Errorf(hla.KindRestoreRequestFailed, "no completed save %q", label)
	}

	if err := cert.Verify(); err != nil {
		return nil, hla.Wrap(hla.KindRestoreRequestFailed, err, label)
	}

	return cert, nil
}

// restoreMapping maps the current handle of every joined federate to its handle
// in a save. The joined federates must be exactly the saved ones, matched by name.
func (f *federation) restoreMapping(cert *checkpoint.Certificate) (map[hla.FederateHandle]hla.FederateHandle, error) {
	if _, ok := cert.Entry(rtiName); !ok {
		return nil, hla.Errorf(hla.KindRestoreRequestFailed, "save %q has no rti checkpoint", cert.Label)
	}

	if saved := len(cert.Entries) - 1; saved != len(f.federates) {
		return nil, hla.Errorf(hla.KindRestoreRequestFailed,
			"save %q holds %d federates, %d joined", cert.Label, saved, len(f.federates))
	}

	mapping := make(map[hla.FederateHandle]hla.FederateHandle, len(f.federates))
	for h, m := range f.federates {
		e, ok := cert.Entry(m.name)
		if !ok {
			return nil, hla.Errorf(hla.KindRestoreRequestFailed, "federate %q is not part of save %q", m.name, cert.Label)
		}

		mapping[h] = e.Federate
	}

	return mapping, nil
}

// initiateRestore runs when the settle window closes.
func (r *RTI) initiateRestore(f *federation, init saverestore.Initiation, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err != nil {
		logger.Warn("restore not initiated", "federation", f.name, "error", err)
		return
	}

	if err := r.loadState(f, init.Label); err != nil {
		logger.Error("restore failed", "federation", f.name, "label", init.Label, "error", err)

		f.restore.Abort()
		r.finishRestore(f)

		return
	}

	logger.Info("restore initiated",
		"federation", f.name,
		"label", init.Label,
		"registrant", init.Registrant,
	)
}

// loadState restores the federation components and renumbers the federates to
// their saved handles. Each federate learns its handle from the initiation sent
// to its current one.
func (r *RTI) loadState(f *federation, label string) error {
	cert, err := r.certificate(f, label)
	if err != nil {
		return err
	}

	mapping, err := f.restoreMapping(cert)
	if err != nil {
		return err
	}

	own, _ := cert.Entry(rtiName)

	data, err := r.cfg.Store.Get(f.name, label, rtiName)
	if err != nil {
		return err
	}

	if err := checkDigest(data, own.Digest); err != nil {
		return fmt.Errorf("rti checkpoint:\n%w", err)
	}

	man, err := f.manifest()
	if err != nil {
		return err
	}

	if _, err := checkpoint.Read(man, data); err != nil {
		return err
	}

	f.renumber(mapping)

	for _, old := range sortedKeys(mapping) {
		h := mapping[old]
		e, _ := cert.Entry(f.federates[h].name)

		digest, err := hex.DecodeString(e.Digest)
		if err != nil {
			return fmt.Errorf("digest of %s:\n%w", e.Name, err)
		}

		_ = r.notify(f, old, &wire.LabelMessage{
			Kind:     wire.TypeInitiateRestore,
			Label:    label,
			Federate: h,
			Digest:   digest,
		})
	}

	return nil
}

// renumber moves every member to its saved handle. Pending sync points do not
// survive a restore.
func (f *federation) renumber(mapping map[hla.FederateHandle]hla.FederateHandle) {
	members := make(map[hla.FederateHandle]*federate, len(f.federates))

	for old, m := range f.federates {
		f.save.RemoveFederate(old)
		f.restore.RemoveFederate(old)

		m.handle = mapping[old]
		members[m.handle] = m
	}

	f.federates = members

	for h := range members {
		f.save.AddFederate(h)
		f.restore.AddFederate(h)

		if h > f.next {
			f.next = h
		}
	}

	f.syncPoints = make(map[string]*syncPoint)
}

func (r *RTI) restoreComplete(f *federation, fed hla.FederateHandle, ctx *sink.Context) error {
	if err := f.restore.Complete(fed); err != nil {
		return err
	}

	r.checkRestoreDone(f)

	return nil
}

func (r *RTI) restoreNotComplete(f *federation, fed hla.FederateHandle, ctx *sink.Context) error {
	if err := f.restore.NotComplete(fed); err != nil {
		return err
	}

	r.checkRestoreDone(f)

	return nil
}

func (r *RTI) checkRestoreDone(f *federation) {
	if f.restore.Active() && f.restore.IsComplete() {
		r.finishRestore(f)
	}
}

// finishRestore reports the outcome of the active restore.
func (r *RTI) finishRestore(f *federation) {
	label := f.restore.Label()
	success := f.restore.IsCompleteSuccessful()

	if success {
		logger.Info("federation restored", "federation", f.name, "label", label)
	} else {
		logger.Warn("federation restore failed", "federation", f.name, "label", label, "failed", f.restore.Failed())
	}

	f.restore.Reset()

	_ = r.broadcast(f, &wire.LabelMessage{Kind: wire.TypeFederationRestored, Label: label, Success: success})
}

// checkDigest compares a checkpoint with the hex digest recorded in a certificate.
func checkDigest(data []byte, want string) error {
	if data == nil {
		return fmt.Errorf("checkpoint missing")
	}

	got := checkpoint.Checkpoint{Data: data}.Digest()
	if hex.EncodeToString(got[:]) != want {
		return fmt.Errorf("checkpoint digest mismatch")
	}

	return nil
}

func sortedKeys(m map[hla.FederateHandle]hla.FederateHandle) []hla.FederateHandle {
	out := make([]hla.FederateHandle, 0, len(m))
	for h := range m {
		out = append(out, h)
	}

	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })

	return out
}
