// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

// The webinar-sync-helper service.
package main

import (
	"fmt"
	"net/mail"
	"strings"
)

// defaultInviteeName is used when a contact has an email but no name.
const defaultInviteeName = "Panelist"

// Nickname is an entry of the operator-maintained nickname table, letting
// list editors write "jane" instead of "Jane Doe <jane@example.com>".
type Nickname struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

// contactMap maps lowercase email addresses to display names.
type contactMap map[string]string

// parseContacts turns a comma-separated "Name <email>" list into a contactMap.
// Tokens without an "@" are looked up in the nickname table; unknown
// nicknames are dropped.
func parseContacts(contacts string, nicknames map[string]Nickname) contactMap {
	result := contactMap{}
	for _, token := range strings.Split(contacts, ",") {
		name, address := splitContact(token)
		if strings.Contains(address, "@") {
			displayName := strings.TrimSpace(name)
			if displayName == "" {
				displayName = defaultInviteeName
			}
			result[normalizeEmail(address)] = displayName
			continue
		}
		if nick, ok := nicknames[strings.ToLower(strings.TrimSpace(address))]; ok {
			result[normalizeEmail(nick.Email)] = nick.Name
		}
	}
	return result
}

// normalizeEmail returns the contactMap key for an address.
func normalizeEmail(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

// splitContact parses one list element into name and address. Elements that
// are not valid RFC 5322 addresses fall back to "Name <token>" or a bare
// token, so nicknames survive parsing.
func splitContact(token string) (name, address string) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ""
	}
	if addr, err := mail.ParseAddress(token); err == nil {
		return addr.Name, addr.Address
	}
	if open := strings.LastIndex(token, "<"); open >= 0 && strings.HasSuffix(token, ">") {
		name = strings.Trim(strings.TrimSpace(token[:open]), `"`)
		return name, token[open+1 : len(token)-1]
	}
	return "", token
}

// contactsFromValue resolves a property value into contacts. Values already
// stored as a mapping (email -> name) keep their names; only the keys are
// normalized.
func contactsFromValue(value any, nicknames map[string]Nickname) (contactMap, error) {
	switch v := value.(type) {
	case nil:
		return contactMap{}, nil
	case string:
		return parseContacts(v, nicknames), nil
	case map[string]string:
		return normalizedContacts(v), nil
	case contactMap:
		return normalizedContacts(v), nil
	case map[string]any:
		result := make(contactMap, len(v))
		for email, name := range v {
			s, ok := name.(string)
			if !ok {
				return nil, fmt.Errorf("display name for %s is %T, not a string", email, name)
			}
			result[normalizeEmail(email)] = s
		}
		return result, nil
	default:
		return parseContacts(fmt.Sprint(v), nicknames), nil
	}
}

func normalizedContacts[M ~map[string]string](m M) contactMap {
	result := make(contactMap, len(m))
	for email, name := range m {
		result[normalizeEmail(email)] = name
	}
	return result
}
