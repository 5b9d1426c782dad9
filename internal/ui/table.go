package ui

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"pkengine/pkg/engine"
	"pkengine/pkg/manager"
)

// Table wraps tabwriter for consistent styling.
type Table struct {
	writer  *tabwriter.Writer
	headers []string
}

// NewTable creates a new table that writes to w.
func NewTable(w io.Writer, header []string) *Table {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	t := &Table{
		writer:  tw,
		headers: header,
	}
	if len(t.headers) > 0 {
		headerRow := make([]string, len(t.headers))
		for i, h := range t.headers {
			headerRow[i] = Bold(strings.ToUpper(h))
		}
		fmt.Fprintln(t.writer, strings.Join(headerRow, "\t"))
	}
	return t
}

// AddRow adds a row to the table.
func (t *Table) AddRow(row ...string) {
	fmt.Fprintln(t.writer, strings.Join(row, "\t"))
}

// Render outputs the table.
func (t *Table) Render() {
	t.writer.Flush()
}

// PrintPackages prints Package events in a table.
func PrintPackages(w io.Writer, packages []engine.PackageEvent) {
	if len(packages) == 0 {
		fmt.Fprintln(w, Muted.Sprint("No packages found"))
		return
	}

	t := NewTable(w, []string{"info", "name", "version", "arch", "origin", "summary"})
	for _, pkg := range packages {
		id, err := manager.ParseID(pkg.PackageID)
		if err != nil {
			id = manager.PackageID{Name: pkg.PackageID}
		}
		info := pkg.Info.String()

		summary := pkg.Summary
		if len(summary) > 50 {
			summary = summary[:47] + "..."
		}

		t.AddRow(
			InfoColor(info).Sprint(info),
			PackageName.Sprint(id.Name),
			PackageVersion.Sprint(id.EVR),
			id.Arch,
			PackageOrigin.Sprint(id.Data),
			summary,
		)
	}
	t.Render()
}

// PrintDetails prints Details events, one block per package.
func PrintDetails(w io.Writer, details []engine.DetailsEvent) {
	for i, d := range details {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintln(w, Header.Sprint(d.PackageID))
		printField(w, "Summary", d.Summary)
		printField(w, "License", d.License)
		printField(w, "Group", d.Group)
		printField(w, "URL", d.URL)
		printField(w, "Installed size", HumanSize(d.InstallSize))
		printField(w, "Download size", HumanSize(d.DownloadSize))
		if d.Description != "" && d.Description != d.Summary {
			fmt.Fprintf(w, "\n%s\n", d.Description)
		}
	}
}

// PrintFiles prints Files events. Events without a package id list
// downloaded payloads.
func PrintFiles(w io.Writer, files []engine.FilesEvent) {
	for _, f := range files {
		label := f.PackageID
		if label == "" {
			label = "Downloaded"
		}
		fmt.Fprintln(w, Header.Sprint(label))
		for _, p := range f.Paths {
			fmt.Fprintf(w, "  %s\n", p)
		}
	}
}

// PrintUpdateDetails prints Update detail events.
func PrintUpdateDetails(w io.Writer, details []engine.UpdateDetailEvent) {
	for i, d := range details {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintln(w, Header.Sprint(d.PackageID))
		printField(w, "Updates", strings.Join(d.Updates, ", "))
		printField(w, "Obsoletes", strings.Join(d.Obsoletes, ", "))
		printField(w, "State", d.State)
		printField(w, "Issued", d.Issued)
		printField(w, "Updated", d.Updated)
		if d.Restart != engine.RestartNone {
			printField(w, "Restart", d.Restart.String())
		}
		printField(w, "CVE", strings.Join(d.CVEURLs, " "))
		printField(w, "Bugzilla", strings.Join(d.BugzillaURLs, " "))
		printField(w, "Vendor", strings.Join(d.VendorURLs, " "))
		if d.Text != "" {
			fmt.Fprintf(w, "\n%s\n", d.Text)
		}
	}
}

// PrintRepos prints Repo detail events in a table.
func PrintRepos(w io.Writer, repos []engine.RepoDetailEvent) {
	if len(repos) == 0 {
		fmt.Fprintln(w, Muted.Sprint("No repositories found"))
		return
	}

	t := NewTable(w, []string{"id", "enabled", "name"})
	for _, r := range repos {
		enabled := Muted.Sprint("no")
		if r.Enabled {
			enabled = Installed.Sprint("yes")
		}
		t.AddRow(r.RepoID, enabled, r.Name)
	}
	t.Render()
}

// PrintTransactions prints Transaction events, newest first as delivered.
func PrintTransactions(w io.Writer, txs []engine.TransactionEvent) {
	if len(txs) == 0 {
		fmt.Fprintln(w, Muted.Sprint("No transactions recorded"))
		return
	}

	t := NewTable(w, []string{"id", "time", "role", "result", "duration", "packages"})
	for _, tx := range txs {
		result := Success.Sprint(SymbolSuccess)
		if !tx.Succeeded {
			result = Error.Sprint(SymbolError)
		}
		id := tx.ID
		if len(id) > 8 {
			id = id[:8]
		}
		t.AddRow(
			id,
			tx.Timestamp.Local().Format("2006-01-02 15:04"),
			tx.Role,
			result,
			tx.Duration.Round(1e6).String(),
			strings.ReplaceAll(tx.Data, "\n", ", "),
		)
	}
	t.Render()
}

// PrintSystemInfo prints system information.
func PrintSystemInfo(w io.Writer, prettyName, arch, backend string, backends []string) {
	fmt.Fprintln(w, Header.Sprint("System Information"))

	printField(w, "Operating System", prettyName)
	printField(w, "Architecture", arch)
	printField(w, "Default Backend", backend)

	if len(backends) > 0 {
		printField(w, "Available Backends", strings.Join(backends, ", "))
	}
}

// printField prints a single field; empty values are skipped.
func printField(w io.Writer, label, value string) {
	if value == "" {
		return
	}
	fmt.Fprintf(w, "  %s: %s\n", Cyan(label), value)
}

// HumanSize formats a byte count with binary units.
func HumanSize(n uint64) string {
	if n == 0 {
		return ""
	}
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
