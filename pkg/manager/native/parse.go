package native

import (
	"bufio"
	"strconv"
	"strings"
	"time"

	"pkengine/pkg/manager"
)

// infoBlock is one package section of `pacman -Si`/`-Qi` output. Values of
// continuation lines are joined to their field with two spaces, the way
// pacman separates list values.
type infoBlock map[string]string

// parseInfoBlocks splits -Si/-Qi output into blocks separated by blank lines.
func parseInfoBlocks(output string) []infoBlock {
	var blocks []infoBlock
	cur := infoBlock{}
	last := ""

	flush := func() {
		if len(cur) > 0 {
			blocks = append(blocks, cur)
		}
		cur = infoBlock{}
		last = ""
	}

	scanner := bufio.NewScanner(strings.NewReader(output))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}
		if line[0] == ' ' || line[0] == '\t' {
			if last != "" {
				cur[last] += "  " + strings.TrimSpace(line)
			}
			continue
		}
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		cur[key] = strings.TrimSpace(parts[1])
		last = key
	}
	flush()
	return blocks
}

// list returns a multi-valued field, nil for "None".
func (b infoBlock) list(key string) []string {
	v := b[key]
	if v == "" || v == "None" {
		return nil
	}
	return strings.Fields(v)
}

func (b infoBlock) value(key string) string {
	if v := b[key]; v != "None" {
		return v
	}
	return ""
}

// pkg converts a block to a Package. origin is used when the block has no
// Repository field.
func (b infoBlock) pkg(origin string) manager.Package {
	p := manager.Package{
		Name:        b["Name"],
		EVR:         b["Version"],
		Arch:        b["Architecture"],
		Origin:      origin,
		Summary:     b.value("Description"),
		Description: b.value("Description"),
		URL:         b.value("URL"),
		License:     strings.Join(b.list("Licenses"), " and "),
		Provides:    b.list("Provides"),
		Requires:    b.list("Depends On"),
		Conflicts:   b.list("Conflicts With"),
		Obsoletes:   b.list("Replaces"),

		DownloadSize: parseSize(b["Download Size"]),
		InstallSize:  parseSize(b["Installed Size"]),
	}
	if groups := b.list("Groups"); len(groups) > 0 {
		p.Group = groups[0]
	}
	if repo := b.value("Repository"); repo != "" {
		p.Origin = repo
	}
	if date := b.value("Install Date"); date != "" {
		p.InstallTime = parseDate(date)
	}
	switch reason := b.value("Install Reason"); {
	case strings.HasPrefix(reason, "Explicitly"):
		p.Reason = manager.ReasonUser
	case strings.Contains(reason, "dependency"):
		p.Reason = manager.ReasonDependency
	}
	return p
}

var sizeUnits = map[string]float64{
	"B":   1,
	"KiB": 1 << 10,
	"MiB": 1 << 20,
	"GiB": 1 << 30,
	"TiB": 1 << 40,
}

// parseSize parses pacman's human sizes such as "4.20 MiB".
func parseSize(s string) uint64 {
	fields := strings.Fields(s)
	if len(fields) != 2 {
		return 0
	}
	n, err := strconv.ParseFloat(fields[0], 64)
	if err != nil || n < 0 {
		return 0
	}
	unit, ok := sizeUnits[fields[1]]
	if !ok {
		return 0
	}
	return uint64(n * unit)
}

// pacman prints dates with strftime %c under the C locale.
var dateLayouts = []string{
	time.ANSIC,
	"Mon 02 Jan 2006 03:04:05 PM MST",
	"Mon 02 Jan 2006 15:04:05 MST",
}

func parseDate(s string) time.Time {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// parseFileList parses `pacman -Ql` output into paths per package.
// Directories, which pacman lists with a trailing slash, are skipped.
func parseFileList(output string) map[string][]string {
	files := make(map[string][]string)
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		name, path, ok := strings.Cut(scanner.Text(), " ")
		if !ok || path == "" || strings.HasSuffix(path, "/") {
			continue
		}
		files[name] = append(files[name], path)
	}
	return files
}

// printFormat is passed to --print-format. "|" does not occur in package
// names, versions, architectures or repository names.
const printFormat = "%n|%v|%a|%r|%s"

// printed is one line of --print output.
type printed struct {
	Name string
	EVR  string
	Arch string
	Repo string
	Size uint64
}

func parsePrinted(output string) []printed {
	var out []printed
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		fields := strings.Split(strings.TrimSpace(scanner.Text()), "|")
		if len(fields) != 5 || fields[0] == "" || fields[1] == "" {
			continue
		}
		size, _ := strconv.ParseUint(fields[4], 10, 64)
		out = append(out, printed{
			Name: fields[0],
			EVR:  fields[1],
			Arch: fields[2],
			Repo: fields[3],
			Size: size,
		})
	}
	return out
}

// parseLines returns the non-empty trimmed lines of output.
func parseLines(output string) []string {
	var out []string
	for _, line := range strings.Split(output, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}
