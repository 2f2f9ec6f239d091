// Copyright (c) 2026 John Earle
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

// Package identity derives the acting user and tenant for a request.
package identity

import "strings"

// Development identities.
const (
	InternalUser   = "internal-user"
	InternalTenant = "internal-tenant"
	UnknownUser    = "unknown-user"
	UnknownTenant  = "unknown-tenant"
)

// PrincipalHeader carries the signed-in user in App Service deployments.
const PrincipalHeader = "X-MS-CLIENT-PRINCIPAL-NAME"

// Identity is the acting user and the tenant their data belongs to.
type Identity struct {
	UserID   string
	TenantID string
}

// FromPrincipal resolves an Identity. Outside production the fixed
// internal identity is returned. In production the user is the principal
// name and the tenant is its e-mail domain with dots replaced by dashes.
func FromPrincipal(principal string, production bool) Identity {
	if !production {
		return Identity{UserID: InternalUser, TenantID: InternalTenant}
	}

	principal = strings.TrimSpace(principal)
	if principal == "" {
		return Identity{UserID: UnknownUser, TenantID: UnknownTenant}
	}

	_, domain, ok := strings.Cut(principal, "@")
	if !ok || domain == "" {
		return Identity{UserID: principal, TenantID: UnknownTenant}
	}
	return Identity{
		UserID:   principal,
		TenantID: strings.ReplaceAll(domain, ".", "-"),
	}
}
