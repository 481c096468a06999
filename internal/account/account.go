// Package account implements the client-side account and session manager:
// a SQLite-backed store of known server accounts, an in-memory registry
// ordered by recency, login/re-authentication handling, and asynchronous
// refresh of server-reported metadata.
package account

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// ServerInfo is the server-reported capability and branding snapshot for
// one account. It changes only when the server is upgraded or rebranded,
// so structural inequality is what drives change notifications.
type ServerInfo struct {
	VersionMajor int
	VersionMinor int
	VersionPatch int
	Features     []string
	CustomBrand  string
	CustomLogo   string
}

// proFeature is the feature flag servers report on pro-edition deployments.
const proFeature = "pro"

// VersionString formats the protocol version as "major.minor.patch".
func (s ServerInfo) VersionString() string {
	return fmt.Sprintf("%d.%d.%d", s.VersionMajor, s.VersionMinor, s.VersionPatch)
}

// FeatureString joins the feature set into the comma-separated form used
// in the property table.
func (s ServerInfo) FeatureString() string {
	return strings.Join(s.Features, ",")
}

// HasFeature reports whether the server advertises the named feature.
func (s ServerInfo) HasFeature(name string) bool {
	return slices.Contains(s.Features, name)
}

// ProEdition reports whether the server is a pro-edition deployment.
func (s ServerInfo) ProEdition() bool {
	return s.HasFeature(proFeature)
}

// Equal compares two snapshots structurally.
func (s ServerInfo) Equal(o ServerInfo) bool {
	return s.VersionMajor == o.VersionMajor &&
		s.VersionMinor == o.VersionMinor &&
		s.VersionPatch == o.VersionPatch &&
		s.CustomBrand == o.CustomBrand &&
		s.CustomLogo == o.CustomLogo &&
		slices.Equal(s.Features, o.Features)
}

// SetVersion fills the version fields from a "major.minor.patch" string.
// Missing or malformed components are left at zero, matching how older
// servers reported short version strings.
func (s *ServerInfo) SetVersion(v string) {
	parts := strings.SplitN(v, ".", 3)

	dests := []*int{&s.VersionMajor, &s.VersionMinor, &s.VersionPatch}
	for i := range parts {
		if i >= len(dests) {
			break
		}

		if n, err := strconv.Atoi(strings.TrimSpace(parts[i])); err == nil {
			*dests[i] = n
		}
	}
}

// parseFeatures fills the feature set from the comma-separated property
// value. Empty segments are dropped.
func (s *ServerInfo) parseFeatures(v string) {
	s.Features = nil

	for _, f := range strings.Split(v, ",") {
		if f = strings.TrimSpace(f); f != "" {
			s.Features = append(s.Features, f)
		}
	}
}

// AccountInfo is the per-user usage snapshot: quota and display name.
// It is updated independently of ServerInfo.
type AccountInfo struct {
	TotalStorage int64
	UsedStorage  int64
	Name         string
}

// Account identifies one login on one server. The composite key is
// (ServerURL, Username); everything else is mutable account state.
//
// An account with an empty token is known but unauthenticated. Validity,
// not existence, gates session use.
type Account struct {
	ServerURL string
	Username  string
	Token     string

	// LastVisited is wall-clock milliseconds since the epoch, stamped on
	// every save. It drives the most-recently-used registry ordering.
	LastVisited int64

	IsShibboleth   bool
	IsKerberos     bool
	AutomaticLogin bool

	ServerInfo  ServerInfo
	AccountInfo AccountInfo
}

// IsValid reports whether the account holds an authentication token.
func (a Account) IsValid() bool {
	return a.Token != ""
}

// Host returns the host component of the server URL, or "" if the URL
// does not parse.
func (a Account) Host() string {
	u, err := url.Parse(a.ServerURL)
	if err != nil {
		return ""
	}

	return u.Host
}

// normalizeUsername applies NFC so that usernames entered on different
// platforms compare equal (macOS file dialogs hand out NFD).
func normalizeUsername(name string) string {
	return norm.NFC.String(name)
}

// SameAccount reports whether two accounts share the composite key.
func (a Account) SameAccount(b Account) bool {
	return a.ServerURL == b.ServerURL &&
		normalizeUsername(a.Username) == normalizeUsername(b.Username)
}

// Signature returns a stable derived identifier for the account, used by
// collaborators that cannot hold a full account reference. It is the hex
// MD5 of the composite key, stable across processes.
func (a Account) Signature() string {
	sum := md5.Sum([]byte(a.ServerURL + " " + normalizeUsername(a.Username)))
	return hex.EncodeToString(sum[:])
}

// lessAccount orders accounts for the registry: any valid account sorts
// before any invalid one, then by descending last-visited time. The
// invalid-last rule guarantees the front-of-list slot is never an expired
// session while a valid one exists.
func lessAccount(a, b Account) bool {
	if a.IsValid() != b.IsValid() {
		return a.IsValid()
	}

	return a.LastVisited > b.LastVisited
}

// sortAccounts stable-sorts a slice into registry order.
func sortAccounts(accounts []Account) {
	slices.SortStableFunc(accounts, func(a, b Account) int {
		switch {
		case lessAccount(a, b):
			return -1
		case lessAccount(b, a):
			return 1
		default:
			return 0
		}
	})
}
