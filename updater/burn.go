package updater

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/moffa90/go-blefota/plan"
	"github.com/moffa90/go-blefota/protocol"
)

// run is the state of one Update call.
type run struct {
	plan       *plan.Plan
	start      time.Time
	written    int
	total      int
	page       int
	totalPages int
}

func (r *run) progress(phase, item string, attempt int) Progress {
	pct := 100.0
	if r.total > 0 {
		pct = float64(r.written) * 100 / float64(r.total)
	}
	return Progress{
		Phase:        phase,
		Item:         item,
		CurrentPage:  r.page,
		TotalPages:   r.totalPages,
		Attempt:      attempt,
		BytesWritten: r.written,
		TotalBytes:   r.total,
		Percentage:   pct,
		ElapsedTime:  time.Since(r.start),
	}
}

// Update performs the complete update sequence on a prepared device:
//  1. Enable FOTA (START)
//  2. Write every item page by page, retrying failed pages
//  3. Commit the metadata
//  4. Reboot the device when the plan asks for it
//  5. Disconnect
//
// The connection is closed when Update returns, whatever the outcome. All
// failures are also reported as a status message.
//
// Example:
//
//	p := plan.FromPackage(pkg, *ver)
//	_ = plan.MakeFlashProcedure(p, plan.ING918xx, 0)
//	err := up.Update(ctx, p)
func (u *Updater) Update(ctx context.Context, p *plan.Plan) error {
	if p == nil {
		return fmt.Errorf("plan cannot be nil")
	}
	if err := p.Validate(); err != nil {
		return fmt.Errorf("invalid plan: %w", err)
	}
	if err := u.begin("update", StateReady); err != nil {
		return err
	}
	defer u.end()
	u.setState(StateBurning)

	ctx, cancel := u.runContext(ctx)
	defer cancel()

	r := &run{
		plan:       p,
		start:      time.Now(),
		total:      p.TotalBytes(),
		totalPages: p.Pages(),
	}

	u.logInfo("update started",
		"items", len(p.Items),
		"bytes", r.total,
		"pages", r.totalPages,
		"page_size", p.PageSize,
		"manual_reboot", p.ManualReboot,
	)

	err := u.burn(ctx, r)
	u.disconnect()

	if err != nil {
		err = u.failed(err)
		u.setState(StateFailed)
		u.status(err.Error())
		u.logError("update failed", "error", err, "elapsed", time.Since(r.start).String())
	} else {
		u.setState(StateComplete)
		u.logInfo("update complete",
			"bytes", r.written,
			"elapsed", time.Since(r.start).String(),
		)
	}

	if u.config.Metrics != nil {
		u.config.Metrics.ObserveRun(Classify(err), time.Since(r.start))
	}
	return err
}

// Run starts Update on a new goroutine. The returned channel receives its
// result and is then closed.
func (u *Updater) Run(ctx context.Context, p *plan.Plan) <-chan error {
	done := make(chan error, 1)
	go func() {
		defer close(done)
		done <- u.Update(ctx, p)
	}()
	return done
}

func (u *Updater) burn(ctx context.Context, r *run) error {
	p := r.plan

	u.reportProgress(r.progress(PhaseStarting, "", 0))
	u.status("enabling FOTA")
	if err := u.control(ctx, "start", protocol.BuildStartCmd()); err != nil {
		return &StartError{Err: err}
	}
	u.status("FOTA successfully enabled")

	for i := range p.Items {
		if err := u.burnItem(ctx, r, &p.Items[i]); err != nil {
			return err
		}
	}

	u.reportProgress(r.progress(PhaseMetadata, p.MetaData.Name, 0))
	if err := u.commitMetadata(ctx, p); err != nil {
		return err
	}

	if p.ManualReboot {
		u.status("FOTA burn complete, reboot...")
		u.reportProgress(r.progress(PhaseRebooting, "", 0))
		// the device may reset before acknowledging
		if err := u.write(ctx, protocol.ControlCharUUID, protocol.BuildRebootCmd()); err != nil {
			u.logDebug("reboot not acknowledged", "error", err)
		}
	} else {
		u.status("FOTA burn complete")
	}

	u.reportProgress(r.progress(PhaseComplete, "", 0))
	return nil
}

// burnItem writes one item page by page.
func (u *Updater) burnItem(ctx context.Context, r *run, item *plan.UpdateItem) error {
	u.mu.Lock()
	session := u.session
	u.mu.Unlock()

	for _, span := range plan.Split(len(item.Data), r.plan.PageSize) {
		page := item.Data[span.Offset:span.End()]
		addr := item.WriteAddr + uint32(span.Offset)
		r.page++

		sig, payload, err := session.SignAndEncryptPage(page)
		if err != nil {
			return &PageError{Item: item.Name, Address: addr, Attempts: 0, Err: err}
		}

		backup := r.written
		attempt := 0
		for {
			attempt++
			if attempt == 1 {
				u.status(fmt.Sprintf("burn %s ...", item.Name))
			} else {
				u.status(fmt.Sprintf("burn %s (retry #%d) ...", item.Name, attempt-1))
			}

			started := time.Now()
			err = u.burnPage(ctx, r, item.Name, attempt, addr, sig, payload)
			if u.config.Metrics != nil {
				u.config.Metrics.ObservePageAttempt(err == nil, time.Since(started))
			}
			if err == nil {
				break
			}

			if ctx.Err() != nil || u.abortCtx.Err() != nil {
				return err
			}

			u.logError("page attempt failed",
				"item", item.Name,
				"address", fmt.Sprintf("0x%08X", addr),
				"attempt", attempt,
				"error", err,
			)

			r.written = backup
			u.reportProgress(r.progress(PhaseBurning, item.Name, attempt))

			if attempt >= u.config.Retries {
				return &PageError{Item: item.Name, Address: addr, Attempts: attempt, Err: err}
			}
		}
	}
	return nil
}

// burnPage makes one attempt at writing a page.
func (u *Updater) burnPage(ctx context.Context, r *run, name string, attempt int, addr uint32, sig, payload []byte) error {
	if err := u.control(ctx, "page begin", protocol.BuildPageBeginCmd(addr)); err != nil {
		return err
	}

	chunk := u.PayloadSize()
	for _, span := range plan.Split(len(payload), chunk) {
		if err := u.write(ctx, protocol.DataCharUUID, payload[span.Offset:span.End()]); err != nil {
			return &TransportError{Op: "write data", Err: err}
		}
		r.written += span.Length
		if u.config.Metrics != nil {
			u.config.Metrics.AddBytes(span.Length)
		}
		u.reportProgress(r.progress(PhaseBurning, name, attempt))

		if err := sleep(ctx, u.config.ChunkDelay); err != nil {
			return err
		}
	}

	cmd, err := protocol.BuildPageEndCmd(len(payload), protocol.CRC16(payload), sig)
	if err != nil {
		return err
	}
	if err := u.write(ctx, protocol.ControlCharUUID, cmd); err != nil {
		return err
	}

	if err := sleep(ctx, u.config.PageDelay); err != nil {
		return err
	}
	return u.pollPage(ctx)
}

// pollPage polls the control characteristic until it reports OK or ERROR.
func (u *Updater) pollPage(ctx context.Context) error {
	pctx, cancel := context.WithTimeout(ctx, u.config.PollTimeout)
	defer cancel()

	for {
		st, err := u.readStatus(pctx)
		if err != nil {
			if ctx.Err() == nil && errors.Is(pctx.Err(), context.DeadlineExceeded) {
				return ErrPollTimeout
			}
			return err
		}
		switch st {
		case protocol.StatusOK:
			return nil
		case protocol.StatusError:
			return &protocol.CommandError{Operation: "page end", Status: st}
		}
		if pctx.Err() != nil {
			if ctx.Err() == nil {
				return ErrPollTimeout
			}
			return ctx.Err()
		}
	}
}

// commitMetadata sends the metadata record. In secure mode the first two bytes
// stay in the clear and the rest is signed and encrypted.
func (u *Updater) commitMetadata(ctx context.Context, p *plan.Plan) error {
	u.status("burn " + p.MetaData.Name)

	u.mu.Lock()
	session := u.session
	u.mu.Unlock()

	data := p.MetaData.Data
	payload := data
	if session.Secure() {
		if len(data) < protocol.MetadataHeaderSize {
			return &MetadataError{Err: fmt.Errorf("metadata is %d bytes, shorter than its header", len(data))}
		}
		header := data[:protocol.MetadataHeaderSize]
		sig, ct, err := session.SignAndEncryptMetadata(data[protocol.MetadataHeaderSize:])
		if err != nil {
			return &MetadataError{Err: err}
		}
		payload, err = protocol.BuildSecureMetadataPayload(sig, header, ct)
		if err != nil {
			return &MetadataError{Err: err}
		}
	}

	if err := u.write(ctx, protocol.ControlCharUUID, protocol.BuildMetadataCmd(payload)); err != nil {
		return &MetadataError{Err: err}
	}

	if !p.ManualReboot {
		return nil
	}

	st, err := u.readStatus(ctx)
	if err != nil {
		return &MetadataError{Err: err}
	}
	if st != protocol.StatusOK {
		return &MetadataError{Err: &protocol.CommandError{Operation: "metadata", Status: st}}
	}
	return nil
}
