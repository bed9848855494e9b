// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Flicker Contributors

package mail

import (
	"bytes"
	htmltemplate "html/template"
	"strconv"
	"text/template"
	"time"

	"github.com/samber/oops"
)

var verificationText = template.Must(template.New("text").Parse(
	`Your verification code is {{.Code}}. It is valid for {{.Validity}}.

If you did not request this code, you can ignore this email.
`))

var verificationHTML = htmltemplate.Must(htmltemplate.New("html").Parse(
	`<div style="font-family: Arial, sans-serif; color: #333;">
  <h2 style="color: #4a86e8;">{{.Subject}}</h2>
  <p>Hello,</p>
  <p>Your verification code is: <strong style="font-size: 18px; color: #4a86e8;">{{.Code}}</strong></p>
  <p>It is valid for {{.Validity}}.</p>
  <p>If you did not request this code, you can ignore this email.</p>
</div>`))

// VerificationMessage renders the email carrying a verification code.
func VerificationMessage(to, subject, code string, ttl time.Duration) (Message, error) {
	data := struct {
		Subject  string
		Code     string
		Validity string
	}{subject, code, humanDuration(ttl)}

	var text, html bytes.Buffer
	if err := verificationText.Execute(&text, data); err != nil {
		return Message{}, oops.Wrapf(err, "render text body")
	}
	if err := verificationHTML.Execute(&html, data); err != nil {
		return Message{}, oops.Wrapf(err, "render html body")
	}
	return Message{
		To:      to,
		Subject: subject,
		Text:    text.String(),
		HTML:    html.String(),
	}, nil
}

func humanDuration(d time.Duration) string {
	switch {
	case d >= time.Minute && d%time.Minute == 0:
		if d == time.Minute {
			return "1 minute"
		}
		return strconv.Itoa(int(d/time.Minute)) + " minutes"
	default:
		return d.String()
	}
}

