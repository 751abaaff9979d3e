package tgui

import (
	"errors"
	"strings"

	tele "gopkg.in/telebot.v4"
)

// MaxCallbackDataLen is Telegram's callback_data limit in bytes.
const MaxCallbackDataLen = 64

var ErrCallbackDataTooLong = errors.New("tgui: callback_data too long")

// Data formats callback data as "action:payload".
func Data(action, payload string) (string, error) {
	action = strings.TrimSpace(action)
	s := action
	if payload != "" {
		s += ":" + payload
	}
	if len(s) > MaxCallbackDataLen {
		return "", ErrCallbackDataTooLong
	}
	return s, nil
}

// Inline builds an inline keyboard row by row.
type Inline struct {
	rm   *tele.ReplyMarkup
	rows []tele.Row
}

func NewInline() *Inline {
	return &Inline{rm: &tele.ReplyMarkup{}}
}

// Row appends a row. Buttons without text are dropped and empty rows are
// skipped.
func (i *Inline) Row(btn ...tele.Btn) *Inline {
	row := make([]tele.Btn, 0, len(btn))
	for _, b := range btn {
		if b.Text != "" {
			row = append(row, b)
		}
	}
	if len(row) == 0 {
		return i
	}
	i.rows = append(i.rows, i.rm.Row(row...))
	i.rm.Inline(i.rows...)
	return i
}

func (i *Inline) Len() int { return len(i.rows) }

func (i *Inline) Markup() *tele.ReplyMarkup { return i.rm }

// Btn creates a callback button with raw callback data. A payload that does
// not fit the callback limit yields a zero button, which Row drops.
func Btn(text, action, payload string) tele.Btn {
	data, err := Data(action, payload)
	if err != nil {
		return tele.Btn{}
	}
	return tele.Btn{Text: text, Data: data}
}
