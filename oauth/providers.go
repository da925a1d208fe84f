package oauth

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
)

// ErrIncompleteAssertion is returned when the provider did not supply a
// subject id or an email.
var ErrIncompleteAssertion = errors.New("oauth assertion missing subject or email")

// ErrUnknownProvider is returned for a provider name without a table entry.
var ErrUnknownProvider = errors.New("unknown oauth provider")

// Provider describes one identity provider.
type Provider struct {
	Name        string
	SubjectPath string
	EmailPath   string
	// NamePaths are tried in order; the first non-empty value wins.
	NamePaths   []string
	PicturePath string
	// EmailVerifiedPath names the provider's verified flag. Providers
	// without one only release verified addresses.
	EmailVerifiedPath string
	UserInfoURL       string
	// EmailsURL lists the account's addresses when the user document
	// hides a private one.
	EmailsURL string
	Scopes    []string
	Endpoint  oauth2.Endpoint
}

// Attributes is the provider-independent result of a login.
type Attributes struct {
	Provider      string
	Subject       string
	Email         string
	EmailVerified bool
	Name          string
	Picture       string
}

// Providers is the attribute table for every supported provider.
var Providers = map[string]Provider{
	"google": {
		Name:              "google",
		SubjectPath:       "sub",
		EmailPath:         "email",
		NamePaths:         []string{"name"},
		PicturePath:       "picture",
		EmailVerifiedPath: "email_verified",
		UserInfoURL:       "https://openidconnect.googleapis.com/v1/userinfo",
		Scopes:            []string{"openid", "email", "profile"},
		Endpoint:          endpoints.Google,
	},
	"github": {
		Name:        "github",
		SubjectPath: "id",
		EmailPath:   "email",
		NamePaths:   []string{"name", "login"},
		PicturePath: "avatar_url",
		UserInfoURL: "https://api.github.com/user",
		EmailsURL:   "https://api.github.com/user/emails",
		Scopes:      []string{"read:user", "user:email"},
		Endpoint:    endpoints.GitHub,
	},
	"facebook": {
		Name:        "facebook",
		SubjectPath: "id",
		EmailPath:   "email",
		NamePaths:   []string{"name"},
		PicturePath: "picture.data.url",
		UserInfoURL: "https://graph.facebook.com/me?fields=id,name,email,picture",
		Scopes:      []string{"email", "public_profile"},
		Endpoint:    endpoints.Facebook,
	},
}

// Lookup returns the table entry for name.
func Lookup(name string) (Provider, error) {
	p, ok := Providers[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Provider{}, ErrUnknownProvider
	}
	return p, nil
}

// Extract reads the attributes out of a decoded user-info document.
func (p Provider) Extract(doc map[string]any) (Attributes, error) {
	attrs := Attributes{
		Provider: p.Name,
		Subject:  lookupPath(doc, p.SubjectPath),
		Email:    strings.ToLower(strings.TrimSpace(lookupPath(doc, p.EmailPath))),
		Picture:  lookupPath(doc, p.PicturePath),
	}
	if attrs.Email != "" {
		attrs.EmailVerified = p.EmailVerifiedPath == "" || lookupBool(doc, p.EmailVerifiedPath)
	}
	for _, path := range p.NamePaths {
		if v := lookupPath(doc, path); v != "" {
			attrs.Name = v
			break
		}
	}
	if attrs.Subject == "" || attrs.Email == "" {
		return attrs, ErrIncompleteAssertion
	}
	return attrs, nil
}

// Decode parses a user-info body keeping numbers exact, so large numeric
// ids survive.
func Decode(body []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func lookupPath(doc map[string]any, path string) string {
	return scalarString(lookupValue(doc, path))
}

// lookupBool accepts both JSON booleans and the "true" strings some
// providers send.
func lookupBool(doc map[string]any, path string) bool {
	switch v := lookupValue(doc, path).(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(strings.TrimSpace(v))
		return b
	default:
		return false
	}
}

func lookupValue(doc map[string]any, path string) any {
	if path == "" {
		return nil
	}
	var cur any = doc
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur, ok = m[part]
		if !ok {
			return nil
		}
	}
	return cur
}

// accountEmail is one entry of a provider's address listing.
type accountEmail struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

// primaryVerified picks the primary address, provided it is verified.
func primaryVerified(emails []accountEmail) string {
	for _, e := range emails {
		if e.Primary && e.Verified {
			return strings.ToLower(strings.TrimSpace(e.Email))
		}
	}
	return ""
}

func scalarString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		return ""
	}
}
