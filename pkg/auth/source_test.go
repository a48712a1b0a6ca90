/*
Copyright (C) 2022-2023 Traefik Labs

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published
by the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program. If not, see <https://www.gnu.org/licenses/>.
*/

package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtract(t *testing.T) {
	tests := []struct {
		desc    string
		src     Source
		cookies map[string]string
		want    string
	}{
		{
			desc:    "session cookie present",
			src:     Source{Cookie: DefaultSessionCookie},
			cookies: map[string]string{DefaultSessionCookie: "SID"},
			want:    "SID",
		},
		{
			desc: "no cookies",
			src:  Source{Cookie: DefaultSessionCookie},
		},
		{
			desc:    "unrelated cookie",
			src:     Source{Cookie: DefaultSessionCookie},
			cookies: map[string]string{"other": "SID"},
		},
		{
			desc:    "empty cookie value",
			src:     Source{Cookie: DefaultSessionCookie},
			cookies: map[string]string{DefaultSessionCookie: ""},
		},
		{
			desc:    "empty source",
			cookies: map[string]string{DefaultSessionCookie: "SID"},
		},
	}

	for _, test := range tests {
		test := test
		t.Run(test.desc, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/auth", nil)
			for name, value := range test.cookies {
				req.AddCookie(&http.Cookie{Name: name, Value: value})
			}

			assert.Equal(t, test.want, Extract(req, test.src))
		})
	}
}
