// Package config loads and watches the riverlevels configuration file
// (default ~/.riverlevels.conf).
//
// Top-level types:
//   - Config: monitors, savefile, api_root, web_base, acknowledgement,
//     http_timeout, state, metrics, watch, email, webhooks
//   - Monitor: station, qualifier (default "Stage"), name (default station),
//     externalId (legacy key RLOIid), threshold (default 0.1 m)
//   - EmailConfig: recipients, html, subject, from, sendmail
//   - WebhookConfig: type (slack|teams|http|discord); secrets resolve from
//     environment variables named by url_env / token_env
//
// Load(path) reads the file, which may be JSON or YAML, applies defaults and
// validates. A missing email section is not a load error: only commands that
// send email require it.
//
// Watch(ctx, path, onChange) uses fsnotify to detect edits and calls onChange
// with the newly parsed Config.
package config
