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

import "net/http"

// Source describes where to find the session ID in an HTTP request.
type Source struct {
	Cookie string `json:"cookie,omitempty"`
}

// Extract extracts the session ID from an HTTP request given a Source. It
// returns an empty string when the request carries none.
func Extract(req *http.Request, src Source) string {
	if src.Cookie != "" {
		if cookie, _ := req.Cookie(src.Cookie); cookie != nil && cookie.Value != "" {
			return cookie.Value
		}
	}

	return ""
}
