// Package item defines the unit of work that flows through the grab pipeline.
package item

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrUnknownItemType is returned for identifiers whose type is not one of the known kinds.
	ErrUnknownItemType = errors.New("unknown item type")
	// ErrMalformedIdentifier is returned when an identifier cannot be split into its parts.
	ErrMalformedIdentifier = errors.New("malformed item identifier")
)

// Kind names the item types handed out by the tracker.
type Kind string

// Supported item kinds.
const (
	KindAlbum Kind = "album"
	KindPhoto Kind = "photo"
	KindStory Kind = "story"
	KindUser  Kind = "user"
	KindWiki  Kind = "wiki"
)

// Target is the typed payload of an identifier. The set of implementations is closed;
// consumers switch over the concrete types.
type Target interface {
	Kind() Kind
	// Value returns the identifier remainder after "<type>:".
	Value() string
	sealed()
}

// Album is an album:<id> item.
type Album struct{ ID string }

// Photo is a photo:<id> item.
type Photo struct{ ID string }

// Story is a story:<id> item.
type Story struct{ ID string }

// User is a user:<name> item.
type User struct{ Name string }

// Wiki is a wiki:<locale>:<name> item.
type Wiki struct {
	Locale string
	Name   string
}

func (Album) Kind() Kind { return KindAlbum }
func (Photo) Kind() Kind { return KindPhoto }
func (Story) Kind() Kind { return KindStory }
func (User) Kind() Kind  { return KindUser }
func (Wiki) Kind() Kind  { return KindWiki }

func (a Album) Value() string { return a.ID }
func (p Photo) Value() string { return p.ID }
func (s Story) Value() string { return s.ID }
func (u User) Value() string  { return u.Name }
func (w Wiki) Value() string  { return w.Locale + ":" + w.Name }

func (Album) sealed() {}
func (Photo) sealed() {}
func (Story) sealed() {}
func (User) sealed()  {}
func (Wiki) sealed()  {}

// NewTarget builds the typed payload for a raw type/value pair.
func NewTarget(kind, value string) (Target, error) {
	switch Kind(kind) {
	case KindAlbum:
		return Album{ID: value}, nil
	case KindPhoto:
		return Photo{ID: value}, nil
	case KindStory:
		return Story{ID: value}, nil
	case KindUser:
		return User{Name: value}, nil
	case KindWiki:
		locale, name, ok := strings.Cut(value, ":")
		if !ok {
			return nil, fmt.Errorf("%w: wiki value %q is not <locale>:<name>", ErrMalformedIdentifier, value)
		}
		return Wiki{Locale: locale, Name: name}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownItemType, kind)
	}
}

// Item is a claimed identifier plus every field the pipeline stages accumulate.
type Item struct {
	// Identifier is the tracker name, "<type>:<value>".
	Identifier string
	Target     Target
	State      State
	ClaimedAt  time.Time

	// Domains is the crawl allow-list drawn for this attempt.
	Domains []string
	URLs    []string

	WorkspaceDir  string
	ContainerBase string
	// ContainerBytes is the size of the finished container, set by the finalizer.
	ContainerBytes int64
	SharedPath     string

	Stats Stats
}

// Parse splits an identifier and returns a freshly claimed Item.
func Parse(identifier string) (*Item, error) {
	kind, value, ok := strings.Cut(identifier, ":")
	if !ok || kind == "" {
		return nil, fmt.Errorf("%w: %q", ErrMalformedIdentifier, identifier)
	}
	target, err := NewTarget(kind, value)
	if err != nil {
		return nil, err
	}
	return &Item{
		Identifier: identifier,
		Target:     target,
		State:      StateClaimed,
	}, nil
}

// Kind returns the item type, or "" for an unparsed item.
func (it *Item) Kind() Kind {
	if it.Target == nil {
		return ""
	}
	return it.Target.Kind()
}

// Value returns the identifier remainder after the type.
func (it *Item) Value() string {
	if it.Target == nil {
		return ""
	}
	return it.Target.Value()
}
