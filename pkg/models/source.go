package models

import (
	"time"

	"github.com/google/uuid"
)

type SourceState string

const (
	SourceAvailableRemotely    SourceState = "AVAILABLE_REMOTELY"
	SourceScheduledForDownload SourceState = "SCHEDULED_FOR_DOWNLOAD"
	SourceDownloading          SourceState = "DOWNLOADING"
	SourceAvailableLocally     SourceState = "AVAILABLE_LOCALLY"
	SourceDownloadFailed       SourceState = "DOWNLOAD_FAILED"
	SourceDeferred             SourceState = "DEFERRED"
	SourceIgnore               SourceState = "IGNORE"
)

// SourceStates lists every source state in lifecycle order.
var SourceStates = []SourceState{
	SourceAvailableRemotely,
	SourceScheduledForDownload,
	SourceDownloading,
	SourceAvailableLocally,
	SourceDownloadFailed,
	SourceDeferred,
	SourceIgnore,
}

func (s SourceState) Valid() bool {
	for _, st := range SourceStates {
		if st == s {
			return true
		}
	}
	return false
}

// Source is one remote or local input file. ReferenceDate is the date the
// file's content describes, not when it was published.
type Source struct {
	ID            uuid.UUID   `json:"id"`
	Filename      string      `json:"filename"`
	Groups        []string    `json:"groups"`
	Domain        string      `json:"domain"`
	URL           string      `json:"url"`
	Credentials   *string     `json:"credentials,omitempty"`
	SizeReported  int64       `json:"size_reported"`
	SizeActual    *int64      `json:"size_actual,omitempty"`
	ReferenceDate time.Time   `json:"reference_date"`
	State         SourceState `json:"state"`
	LocalPath     *string     `json:"local_path,omitempty"`
	ErrorMessage  *string     `json:"error_message,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// InGroup reports whether the source belongs to the named group.
func (s Source) InGroup(name string) bool {
	for _, g := range s.Groups {
		if g == name {
			return true
		}
	}
	return false
}
