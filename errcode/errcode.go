// Package errcode maps the core's Go errors onto the stable negative
// integer return codes external CLI tooling already matches on. The
// core packages never depend on this table directly; it exists purely
// so a future compatibility shim can translate.
package errcode

import "exanodes.dev/vrt/group"

// Stable negative codes, named after the error constants they
// correspond to.
const (
	AdmindErrVolumeNotStarted int32 = -1001
	VrtErrGroupNotStarted     int32 = -2001
	VrtErrGroupNotFound       int32 = -2002
	VrtErrZoneNotFound        int32 = -2003
	VrtErrNameTaken           int32 = -2004
	VrtErrNoSpace             int32 = -2005
	VrtErrRdevTooSmall        int32 = -2006
	VrtErrInUse               int32 = -2007
	VrtErrAccessMode          int32 = -2008
	VrtErrCorrupt             int32 = -2009
	VrtErrUnknown             int32 = -2099
)

// Of maps a package-level sentinel error to its stable compatibility
// code. nil maps to 0; any other unrecognized error maps to
// VrtErrUnknown, so a failure always yields a negative value.
func Of(err error) int32 {
	switch err {
	case nil:
		return 0
	case group.ErrNameTaken:
		return VrtErrNameTaken
	case group.ErrNoSpace:
		return VrtErrNoSpace
	case group.ErrRdevTooSmall:
		return VrtErrRdevTooSmall
	case group.ErrInUse:
		return VrtErrInUse
	case group.ErrAccessMode:
		return VrtErrAccessMode
	case group.ErrCorrupt:
		return VrtErrCorrupt
	case group.ErrGroupNotFound:
		return VrtErrGroupNotFound
	case group.ErrZoneNotFound:
		return VrtErrZoneNotFound
	case group.ErrGroupNotStarted:
		return VrtErrGroupNotStarted
	default:
		return VrtErrUnknown
	}
}
