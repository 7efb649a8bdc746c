package tgui

import (
	tele "gopkg.in/telebot.v4"
)

// Inline builds an inline keyboard.
type Inline struct {
	rm   *tele.ReplyMarkup
	rows []tele.Row
}

func NewInline() *Inline {
	return &Inline{rm: &tele.ReplyMarkup{}}
}

// Row appends a row of buttons.
func (i *Inline) Row(btn ...tele.Btn) *Inline {
	i.rows = append(i.rows, i.rm.Row(btn...))
	i.rm.Inline(i.rows...)
	return i
}

func (i *Inline) Markup() *tele.ReplyMarkup { return i.rm }

// URLBtn creates a button that opens url.
func URLBtn(text, url string) tele.Btn {
	return tele.Btn{Text: text, URL: url}
}
