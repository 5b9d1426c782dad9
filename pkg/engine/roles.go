package engine

import "fmt"

// Role identifies what a Job does.
type Role int

const (
	RoleUnknown Role = iota
	RoleSearchName
	RoleSearchDetails
	RoleSearchFile
	RoleResolve
	RoleWhatProvides
	RoleDependsOn
	RoleRequiredBy
	RoleGetPackages
	RoleGetUpdates
	RoleGetDetails
	RoleGetFiles
	RoleDownloadPackages
	RoleGetUpdateDetail
	RoleGetDetailsLocal
	RoleGetFilesLocal
	RoleGetRepoList
	RoleInstallPackages
	RoleUpdatePackages
	RoleRemovePackages
	RoleInstallFiles
	RoleUpgradeSystem
	RoleRepairSystem
	RoleRepoEnable
	RoleRepoSetData
	RoleRepoRemove
	RoleRefreshCache
	RoleCancel
	RoleGetOldTransactions
)

var roleNames = map[Role]string{
	RoleUnknown:            "unknown",
	RoleSearchName:         "search-name",
	RoleSearchDetails:      "search-details",
	RoleSearchFile:         "search-file",
	RoleResolve:            "resolve",
	RoleWhatProvides:       "what-provides",
	RoleDependsOn:          "depends-on",
	RoleRequiredBy:         "required-by",
	RoleGetPackages:        "get-packages",
	RoleGetUpdates:         "get-updates",
	RoleGetDetails:         "get-details",
	RoleGetFiles:           "get-files",
	RoleDownloadPackages:   "download-packages",
	RoleGetUpdateDetail:    "get-update-detail",
	RoleGetDetailsLocal:    "get-details-local",
	RoleGetFilesLocal:      "get-files-local",
	RoleGetRepoList:        "get-repo-list",
	RoleInstallPackages:    "install-packages",
	RoleUpdatePackages:     "update-packages",
	RoleRemovePackages:     "remove-packages",
	RoleInstallFiles:       "install-files",
	RoleUpgradeSystem:      "upgrade-system",
	RoleRepairSystem:       "repair-system",
	RoleRepoEnable:         "repo-enable",
	RoleRepoSetData:        "repo-set-data",
	RoleRepoRemove:         "repo-remove",
	RoleRefreshCache:       "refresh-cache",
	RoleCancel:             "cancel",
	RoleGetOldTransactions: "get-old-transactions",
}

func (r Role) String() string {
	if s, ok := roleNames[r]; ok {
		return s
	}
	return "unknown"
}

// ParseRole parses the kebab-case role name.
func ParseRole(s string) (Role, error) {
	for r, name := range roleNames {
		if name == s && r != RoleUnknown {
			return r, nil
		}
	}
	return RoleUnknown, NewError(CodeRoleUnknown, fmt.Sprintf("unknown role %q", s))
}

// MarshalText implements encoding.TextMarshaler.
func (r Role) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// Info classifies a package in a Package event.
type Info int

const (
	InfoUnknown Info = iota
	InfoInstalled
	InfoAvailable
	InfoLow
	InfoNormal
	InfoImportant
	InfoSecurity
	InfoBugfix
	InfoEnhancement
	InfoCritical
	InfoDownloading
	InfoUpdating
	InfoInstalling
	InfoRemoving
	InfoCleanup
	InfoObsoleting
	InfoReinstalling
	InfoDowngrading
)

var infoNames = map[Info]string{
	InfoUnknown:      "unknown",
	InfoInstalled:    "installed",
	InfoAvailable:    "available",
	InfoLow:          "low",
	InfoNormal:       "normal",
	InfoImportant:    "important",
	InfoSecurity:     "security",
	InfoBugfix:       "bugfix",
	InfoEnhancement:  "enhancement",
	InfoCritical:     "critical",
	InfoDownloading:  "downloading",
	InfoUpdating:     "updating",
	InfoInstalling:   "installing",
	InfoRemoving:     "removing",
	InfoCleanup:      "cleanup",
	InfoObsoleting:   "obsoleting",
	InfoReinstalling: "reinstalling",
	InfoDowngrading:  "downgrading",
}

func (i Info) String() string {
	if s, ok := infoNames[i]; ok {
		return s
	}
	return "unknown"
}

// MarshalText implements encoding.TextMarshaler.
func (i Info) MarshalText() ([]byte, error) {
	return []byte(i.String()), nil
}

// Status is the coarse state a Job reports while running.
type Status int

const (
	StatusWait Status = iota
	StatusSetup
	StatusRunning
	StatusQuery
	StatusDepResolve
	StatusDownload
	StatusInstall
	StatusUpdate
	StatusRemove
	StatusCleanup
	StatusRefreshCache
	StatusRepair
	StatusFinished
)

var statusNames = map[Status]string{
	StatusWait:         "wait",
	StatusSetup:        "setup",
	StatusRunning:      "running",
	StatusQuery:        "query",
	StatusDepResolve:   "dep-resolve",
	StatusDownload:     "download",
	StatusInstall:      "install",
	StatusUpdate:       "update",
	StatusRemove:       "remove",
	StatusCleanup:      "cleanup",
	StatusRefreshCache: "refresh-cache",
	StatusRepair:       "repair",
	StatusFinished:     "finished",
}

func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return "unknown"
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Restart is what an update needs after it is applied.
type Restart int

const (
	RestartNone Restart = iota
	RestartApplication
	RestartSession
	RestartSystem
)

func (r Restart) String() string {
	switch r {
	case RestartApplication:
		return "application"
	case RestartSession:
		return "session"
	case RestartSystem:
		return "system"
	}
	return "none"
}

// TransactionFlags modify how a mutating role runs.
type TransactionFlags uint32

const (
	FlagSimulate TransactionFlags = 1 << iota
	FlagOnlyDownload
	FlagAllowDowngrade
	FlagAllowReinstall
	FlagOnlyTrusted
)

var flagNames = []struct {
	flag TransactionFlags
	name string
}{
	{FlagSimulate, "simulate"},
	{FlagOnlyDownload, "only-download"},
	{FlagAllowDowngrade, "allow-downgrade"},
	{FlagAllowReinstall, "allow-reinstall"},
	{FlagOnlyTrusted, "only-trusted"},
}

// Has reports whether every bit of flag is set.
func (f TransactionFlags) Has(flag TransactionFlags) bool {
	return f&flag == flag
}

func (f TransactionFlags) String() string {
	if f == 0 {
		return "none"
	}
	var out string
	for _, fn := range flagNames {
		if f.Has(fn.flag) {
			if out != "" {
				out += ";"
			}
			out += fn.name
		}
	}
	return out
}
