package ui

import (
	"errors"
	"fmt"
	"strings"

	"github.com/manifoldco/promptui"

	"pkengine/pkg/manager"
)

// AssumeYes answers every confirmation with its default.
var AssumeYes bool

// Confirm prompts the user for yes/no confirmation.
func Confirm(prompt string, defaultYes bool) (bool, error) {
	if AssumeYes {
		return true, nil
	}

	label := prompt
	if defaultYes {
		label += " [Y/n]"
	} else {
		label += " [y/N]"
	}

	p := promptui.Prompt{
		Label:     label,
		IsConfirm: true,
		Default:   "",
	}

	if defaultYes {
		p.Default = "y"
	}

	result, err := p.Run()
	if err != nil {
		if errors.Is(err, promptui.ErrInterrupt) {
			return false, err
		}
		if errors.Is(err, promptui.ErrAbort) {
			return false, nil
		}
		return defaultYes, nil // Return default on error
	}

	result = strings.ToLower(strings.TrimSpace(result))
	if result == "" {
		return defaultYes, nil
	}

	return result == "y" || result == "yes", nil
}

// SelectPackage prompts the user to pick one of several candidates.
func SelectPackage(packages []manager.Package, prompt string) (*manager.Package, error) {
	if len(packages) == 0 {
		return nil, fmt.Errorf("no packages to select from")
	}

	if len(packages) == 1 || AssumeYes {
		return &packages[0], nil
	}

	templates := &promptui.SelectTemplates{
		Label:    "{{ . }}",
		Active:   "▸ {{ .Name | cyan }} {{ .EVR | green }} {{ .Arch }} [{{ .Origin | magenta }}]",
		Inactive: "  {{ .Name }} {{ .EVR | faint }} {{ .Arch | faint }} [{{ .Origin | faint }}]",
		Selected: "✓ {{ .Name | cyan }} {{ .EVR | green }} [{{ .Origin | magenta }}]",
		Details: `
--------- Package ----------
{{ "Name:" | faint }}	{{ .Name }}
{{ "Version:" | faint }}	{{ .EVR }}
{{ "Arch:" | faint }}	{{ .Arch }}
{{ "Origin:" | faint }}	{{ .Origin }}
{{ "Summary:" | faint }}	{{ .Summary }}`,
	}

	searcher := func(input string, index int) bool {
		pkg := packages[index]
		name := strings.ToLower(pkg.Name)
		input = strings.ToLower(input)
		return strings.Contains(name, input)
	}

	p := promptui.Select{
		Label:     prompt,
		Items:     packages,
		Templates: templates,
		Size:      10,
		Searcher:  searcher,
	}

	index, _, err := p.Run()
	if err != nil {
		return nil, err
	}

	return &packages[index], nil
}
