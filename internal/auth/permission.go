package auth

import "strconv"

// Permission is a dashboard capability. Values are stable: they are stored in
// tokens issued by the account service. A permission whose tens digit is N is
// also granted by the group permission N*10.
type Permission int

const (
	Administrator Permission = 0

	Containers       Permission = 10
	SeeContainers    Permission = 11
	RenameContainer  Permission = 12
	StartContainer   Permission = 13
	RestartContainer Permission = 14
	KillContainer    Permission = 15
	StopContainer    Permission = 16
	RemoveContainer  Permission = 17
	SeeLogs          Permission = 18
	Resource         Permission = 19

	Images      Permission = 20
	SeeImages   Permission = 21
	DeleteImage Permission = 22

	Roles          Permission = 30
	SeeRoles       Permission = 31
	CreateRole     Permission = 32
	GrantRoles     Permission = 33
	UpdateRole     Permission = 34
	DeleteRole     Permission = 35
	SeePermissions Permission = 36

	Users       Permission = 40
	SeeUsers    Permission = 41
	UpdateUsers Permission = 42
	DeleteUsers Permission = 43
)

var permissionNames = map[Permission]string{
	Administrator:    "Administrator",
	Containers:       "Containers",
	SeeContainers:    "SeeContainers",
	RenameContainer:  "RenameContainer",
	StartContainer:   "StartContainer",
	RestartContainer: "RestartContainer",
	KillContainer:    "KillContainer",
	StopContainer:    "StopContainer",
	RemoveContainer:  "RemoveContainer",
	SeeLogs:          "SeeLogs",
	Resource:         "Resource",
	Images:           "Images",
	SeeImages:        "SeeImages",
	DeleteImage:      "DeleteImage",
	Roles:            "Roles",
	SeeRoles:         "SeeRoles",
	CreateRole:       "CreateRole",
	GrantRoles:       "GrantRoles",
	UpdateRole:       "UpdateRole",
	DeleteRole:       "DeleteRole",
	SeePermissions:   "SeePermissions",
	Users:            "Users",
	SeeUsers:         "SeeUsers",
	UpdateUsers:      "UpdateUsers",
	DeleteUsers:      "DeleteUsers",
}

func (p Permission) String() string {
	if name, ok := permissionNames[p]; ok {
		return name
	}
	return "Permission(" + strconv.Itoa(int(p)) + ")"
}

// Group returns the group permission covering p, if any.
func (p Permission) Group() (Permission, bool) {
	if p < 10 || p%10 == 0 {
		return 0, false
	}
	return p / 10 * 10, true
}

// DefaultEveryone is what every authenticated subject holds.
var DefaultEveryone = []Permission{SeeContainers, SeeLogs, SeeImages, Resource}
