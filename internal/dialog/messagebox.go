package dialog

import (
	"go.uber.org/zap"

	"github.com/pitabwire/cooldialog/internal/loop"
	"github.com/pitabwire/cooldialog/model"
)

// GetMessageBoxButtons returns the button ids of a button set. Unknown sets
// show a single OK button.
func GetMessageBoxButtons(b model.MessageBoxButtons) []string {
	switch b {
	case model.ButtonsOKCancel:
		return []string{model.ButtonOK, model.ButtonCancel}
	case model.ButtonsAbortRetryIgnore:
		return []string{model.ButtonAbort, model.ButtonRetry, model.ButtonIgnore}
	case model.ButtonsYesNo:
		return []string{model.ButtonYes, model.ButtonNo}
	case model.ButtonsYesNoCancel:
		return []string{model.ButtonYes, model.ButtonNo, model.ButtonCancel}
	case model.ButtonsRetryCancel:
		return []string{model.ButtonRetry, model.ButtonCancel}
	default:
		return []string{model.ButtonOK}
	}
}

// defaultChoice is the button a dismissed box answers with.
func defaultChoice(box *model.MessageBox, buttons []string) string {
	if box.DefaultButton != "" {
		return box.DefaultButton
	}
	return buttons[0]
}

// serverMessageBox presents a server driven message box and answers it with
// a follow-up command. The future carries the follow-up's outcome.
func (d *Dialog) serverMessageBox(resp *model.Response) *loop.Future[bool] {
	box := resp.MessageBox
	if box == nil {
		d.activateTrailing()
		return loop.Resolved(true)
	}

	var proc *model.Procedure
	for _, p := range d.procedures {
		if p.ID == resp.ID {
			proc = p
		}
	}

	out := loop.NewFuture[bool]()
	d.setState(model.StateMessageBox)

	reply := func(choice string, data []model.FileData) {
		if d.state == model.StateMessageBox {
			d.restoreState()
		}
		d.logger.Debug("message box answered", zap.String("choice", choice), zap.Int("files", len(data)))
		d.handle(HandleParams{
			Action:    model.RequestCommand,
			Command:   choice,
			Procedure: proc,
			Data:      data,
			Validate:  model.MayBeInvalid,
		}).Pipe(out)
	}
	ctx := d.ctx

	if box.Type == model.MessageBoxFileOpen {
		upload := d.opts.UploadBox
		if upload == nil {
			reply(model.ButtonCancel, nil)
			return out
		}
		loop.Spawn(d.loop, func() ([]model.FileData, error) {
			return upload.Upload(ctx, box)
		}, func(files []model.FileData, err error) {
			if err != nil {
				d.logger.Warn("upload box failed", zap.Error(err))
				files = nil
			}
			if len(files) > 0 {
				reply(model.ButtonOK, files)
				return
			}
			reply(model.ButtonCancel, nil)
		})
		return out
	}

	buttons := GetMessageBoxButtons(box.Buttons)
	show := d.opts.MessageBox
	if show == nil {
		reply(defaultChoice(box, buttons), nil)
		return out
	}
	loop.Spawn(d.loop, func() (string, error) {
		return show.Show(ctx, box, buttons)
	}, func(choice string, err error) {
		if err != nil {
			d.logger.Warn("message box failed", zap.Error(err))
			if d.state == model.StateMessageBox {
				d.restoreState()
			}
			out.Resolve(false)
			return
		}
		switch choice {
		case "", model.ButtonEscape, model.ButtonClose:
			choice = defaultChoice(box, buttons)
		}
		reply(choice, nil)
	})
	return out
}

// ShowAlert presents message with a single OK button. The future resolves
// true once the alert is dismissed.
func (d *Dialog) ShowAlert(message string) *loop.Future[bool] {
	return d.post(func() *loop.Future[bool] { return d.showAlert(message) })
}

func (d *Dialog) showAlert(message string) *loop.Future[bool] {
	if d.state == model.StateEnded {
		return loop.Resolved(false)
	}
	out := loop.NewFuture[bool]()
	d.setState(model.StateMessageBox)

	closed := func() {
		if d.state == model.StateMessageBox {
			d.restoreState()
		}
		d.alertClosed = true
		out.Resolve(true)
	}

	show := d.opts.MessageBox
	if show == nil {
		d.logger.Info("alert", zap.String("message", message))
		closed()
		return out
	}
	box := &model.MessageBox{Message: message, Buttons: model.ButtonsOK}
	ctx := d.ctx
	loop.Spawn(d.loop, func() (string, error) {
		return show.Show(ctx, box, GetMessageBoxButtons(box.Buttons))
	}, func(_ string, err error) {
		if err != nil {
			d.logger.Warn("alert failed", zap.Error(err))
		}
		closed()
	})
	return out
}
