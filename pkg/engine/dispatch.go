package engine

import "sort"

// roleSpec declares how the engine runs one role.
type roleSpec struct {
	handler func(*task) error

	// mutating roles are written to the history store.
	mutating bool

	// invalidates drops the update cache once the handler returns.
	invalidates bool

	// local roles read ad-hoc files and do not take the instance lock.
	local bool

	// unlocked roles never touch backend state.
	unlocked bool

	stages Stages
}

var roleTable = map[Role]roleSpec{
	RoleSearchName:       {handler: handleSearchName},
	RoleSearchDetails:    {handler: handleSearchDetails},
	RoleSearchFile:       {handler: handleSearchFile},
	RoleResolve:          {handler: handleResolve, stages: StagesNoRecord},
	RoleWhatProvides:     {handler: handleWhatProvides},
	RoleDependsOn:        {handler: handleDependsOn},
	RoleRequiredBy:       {handler: handleRequiredBy},
	RoleGetPackages:      {handler: handleGetPackages},
	RoleGetUpdates:       {handler: handleGetUpdates},
	RoleGetDetails:       {handler: handleGetDetails},
	RoleGetFiles:         {handler: handleGetFiles},
	RoleDownloadPackages: {handler: handleDownloadPackages},
	RoleGetUpdateDetail:  {handler: handleGetUpdateDetail},
	RoleGetDetailsLocal:  {handler: handleGetDetailsLocal, local: true},
	RoleGetFilesLocal:    {handler: handleGetFilesLocal, local: true},
	RoleGetRepoList:      {handler: handleGetRepoList},

	RoleInstallPackages: {handler: handleInstallPackages, mutating: true, invalidates: true},
	RoleUpdatePackages:  {handler: handleUpdatePackages, mutating: true, invalidates: true},
	RoleRemovePackages:  {handler: handleRemovePackages, mutating: true, invalidates: true},
	RoleInstallFiles:    {handler: handleInstallFiles, mutating: true, invalidates: true},
	RoleUpgradeSystem:   {handler: handleUpgradeSystem, mutating: true, invalidates: true},
	RoleRepairSystem:    {handler: handleRepairSystem, mutating: true, invalidates: true},

	RoleRepoEnable:   {handler: handleRepoEnable, invalidates: true},
	RoleRepoSetData:  {handler: handleRepoSetData, invalidates: true},
	RoleRepoRemove:   {handler: handleRepoRemove, mutating: true, invalidates: true},
	RoleRefreshCache: {handler: handleRefreshCache, invalidates: true},

	RoleCancel:             {handler: handleCancel, unlocked: true},
	RoleGetOldTransactions: {handler: handleGetOldTransactions, unlocked: true},
}

// Roles returns every role the engine can run.
func Roles() []Role {
	out := make([]Role, 0, len(roleTable))
	for r := range roleTable {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
