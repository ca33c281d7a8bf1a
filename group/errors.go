package group

import "errors"

// Kind-level errors the group/zone operation table can return.
var (
	ErrNameTaken       = errors.New("group: name already in use")
	ErrTooFewRdevs     = errors.New("group: at least one rdev is required")
	ErrRdevTooSmall    = errors.New("group: rdev below minimum size")
	ErrCorrupt         = errors.New("group: superblock data is corrupt or inconsistent")
	ErrUnreachable     = errors.New("group: not enough rdevs are reachable")
	ErrNoSpace         = errors.New("group: not enough free capacity")
	ErrAccessMode      = errors.New("group: incompatible access mode across nodes")
	ErrInUse           = errors.New("group: resource is in use")
	ErrGroupNotFound   = errors.New("group: no such group")
	ErrZoneNotFound    = errors.New("group: no such zone")
	ErrGroupNotStarted = errors.New("group: group is not started")
	ErrGroupNotIdle    = errors.New("group: group is not idle")
	ErrZoneNotIdle     = errors.New("group: zone is not idle")
	ErrZoneNotStarted  = errors.New("group: zone is not started")
	ErrInvalidSize     = errors.New("group: size must be greater than zero")
)
