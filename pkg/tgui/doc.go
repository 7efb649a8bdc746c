// Package tgui holds helpers for Telegram's HTML parse mode: escaping,
// formatting tags, link buttons and message splitting.
package tgui
