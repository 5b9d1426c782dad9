package manager

// GoalKind is the kind of a requested operation.
type GoalKind int

const (
	GoalInstall GoalKind = iota
	GoalRemove
	GoalUpgrade
	GoalUpgradeAll
	GoalDistroSync
	GoalGroupUpgrade
)

var goalKindNames = map[GoalKind]string{
	GoalInstall:      "install",
	GoalRemove:       "remove",
	GoalUpgrade:      "upgrade",
	GoalUpgradeAll:   "upgrade-all",
	GoalDistroSync:   "distro-sync",
	GoalGroupUpgrade: "group-upgrade",
}

func (k GoalKind) String() string {
	if s, ok := goalKindNames[k]; ok {
		return s
	}
	return "unknown"
}

// Operation is one requested change. Package is set for package targets,
// Group for group upgrades. UpgradeAll and DistroSync carry no target.
type Operation struct {
	Kind    GoalKind
	Package Package
	Group   string
}

// Goal accumulates requested operations until they are handed to a native
// resolver. Nothing is validated on Add.
type Goal struct {
	Operations []Operation

	AllowErasing   bool // conflicting installed packages may be removed
	CleanDeps      bool // remove dependencies left unused by removals
	AllowDowngrade bool
}

// Add appends an operation.
func (g *Goal) Add(op Operation) {
	g.Operations = append(g.Operations, op)
}

// Install requests installation of p.
func (g *Goal) Install(p Package) { g.Add(Operation{Kind: GoalInstall, Package: p}) }

// Remove requests removal of p.
func (g *Goal) Remove(p Package) { g.Add(Operation{Kind: GoalRemove, Package: p}) }

// Upgrade requests an upgrade to p, or of the installed package named p.Name.
func (g *Goal) Upgrade(p Package) { g.Add(Operation{Kind: GoalUpgrade, Package: p}) }

// UpgradeAll requests every installed package be upgraded.
func (g *Goal) UpgradeAll() { g.Add(Operation{Kind: GoalUpgradeAll}) }

// DistroSync requests installed packages be synchronized to repository versions.
func (g *Goal) DistroSync() { g.Add(Operation{Kind: GoalDistroSync}) }

// GroupUpgrade requests the installed group id be upgraded.
func (g *Goal) GroupUpgrade(id string) { g.Add(Operation{Kind: GoalGroupUpgrade, Group: id}) }

// Empty reports whether the goal has no operations.
func (g *Goal) Empty() bool {
	return len(g.Operations) == 0
}

// Action classifies a resolved package change.
type Action int

const (
	ActionInstall Action = iota
	ActionUpgrade
	ActionRemove
	ActionReinstall
	ActionDowngrade
	ActionReplaced
)

var actionNames = map[Action]string{
	ActionInstall:   "install",
	ActionUpgrade:   "upgrade",
	ActionRemove:    "remove",
	ActionReinstall: "reinstall",
	ActionDowngrade: "downgrade",
	ActionReplaced:  "replaced",
}

func (a Action) String() string {
	if s, ok := actionNames[a]; ok {
		return s
	}
	return "unknown"
}

// Inbound reports whether the action brings a package onto the system.
func (a Action) Inbound() bool {
	switch a {
	case ActionInstall, ActionUpgrade, ActionReinstall, ActionDowngrade:
		return true
	}
	return false
}

// Item is one change in a resolved transaction.
type Item struct {
	Package Package
	Action  Action
}

// Resolution is what a native resolver returns for a goal. Items follow a
// safe order: inbound changes precede the removals they replace.
type Resolution struct {
	Items    []Item
	Problems []string
}
