// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package soliscloud

import (
	"crypto/hmac"
	"crypto/md5"  //nolint:gosec // mandated by the API
	"crypto/sha1" //nolint:gosec // mandated by the API
	"encoding/base64"
	"net/http"
	"strings"
	"time"
)

const (
	// SeparatorLiteral joins the signed parts with a backslash followed by n.
	SeparatorLiteral = `\n`
	// SeparatorNewline joins the signed parts with real newlines.
	SeparatorNewline = "\n"

	dateLayout = "Mon, 02 Jan 2006 15:04:05 GMT"
)

// Sign computes the Authorization header value:
//
//	"API " + keyID + ":" + base64(HMAC-SHA1(secret, method, Content-MD5, contentType, date, path))
//
// joined with SeparatorLiteral. Content-MD5 is empty for an empty body.
func Sign(keyID, secret, method string, body []byte, contentType, date, path string) string {
	return signWith(SeparatorLiteral, keyID, secret, method, contentMD5(body), contentType, date, path)
}

func signWith(separator, keyID, secret, method, md5sum, contentType, date, path string) string {
	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write([]byte(strings.Join([]string{method, md5sum, contentType, date, path}, separator)))

	return "API " + keyID + ":" + base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func contentMD5(body []byte) string {
	if len(body) == 0 {
		return ""
	}

	sum := md5.Sum(body) //nolint:gosec // mandated by the API

	return base64.StdEncoding.EncodeToString(sum[:])
}

// Signer sets the Date, Content-MD5 and Authorization headers on requests.
type Signer struct {
	KeyID     string
	Secret    string
	Separator string
	Now       func() time.Time
}

// Sign is an httpclient signer hook.
func (s Signer) Sign(req *http.Request, body []byte) error {
	separator := s.Separator
	if separator == "" {
		separator = SeparatorLiteral
	}

	date := s.Now().UTC().Format(dateLayout)
	md5sum := contentMD5(body)

	req.Header.Set("Date", date)

	if md5sum != "" {
		req.Header.Set("Content-MD5", md5sum)
	}

	req.Header.Set("Authorization", signWith(separator, s.KeyID, s.Secret, req.Method, md5sum, req.Header.Get("Content-Type"), date, req.URL.Path))

	return nil
}
