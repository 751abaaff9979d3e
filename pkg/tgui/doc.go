// Package tgui holds small Telegram HTML helpers: escaping, a message
// builder, inline keyboards with "action:payload" callback data, progress
// bars and paging.
package tgui
