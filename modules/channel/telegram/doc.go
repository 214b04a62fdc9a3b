// Package telegram implements the Telegram Bot API channel.
//
// It bridges Telegram updates to the bot's message model:
//
//   - Inbound conversion of commands, callback queries (button presses),
//     text and media (photo, audio, voice, video, document)
//   - Outbound text and media with inline keyboards; inline bytes are
//     uploaded with multipart requests
//   - Media download through getFile for the router's file resolver
//   - Two delivery modes: long polling (default) and webhook
//
// The module registers itself as "channel.telegram" via init() and follows
// the module lifecycle: Configure → Provision → Validate → Start → Stop.
//
// No external Telegram library is used; the module talks to the Bot API
// with net/http and encoding/json.
package telegram
