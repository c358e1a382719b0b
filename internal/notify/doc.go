// Package notify renders and delivers alert notifications.
//
// RenderEmail builds a plain-text or HTML email (selected by Format) with
// To/Subject/From/Content-type headers; every interpolated value is escaped
// in HTML mode. Sendmail hands the message to `sendmail -t -oi`; Printer
// writes it out for dry runs. Webhooks posts alerts to Slack, Teams, generic
// HTTP endpoints and Discord channels.
package notify
