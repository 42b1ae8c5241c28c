// Package skills loads SKILL.md instruction files that extend the
// assistant's system prompt. Each skill lives in its own directory with
// YAML frontmatter (name, description, keywords) followed by the
// instruction body.
package skills

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

const skillFileName = "SKILL.md"

var errInvalidSkillYAML = errors.New("invalid skill YAML frontmatter")

type skillFrontmatter struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Keywords    []string `yaml:"keywords"`
}

type Skill struct {
	Name        string
	Description string
	Keywords    []string
	Body        string
	Path        string
}

// LoadSkills reads skills from globalDir then userDir. A user skill with
// the same name shadows the global one. Missing directories are fine.
func LoadSkills(globalDir, userDir string) ([]Skill, error) {
	byName := make(map[string]Skill)
	order := make([]string, 0)

	for _, dir := range []string{globalDir, userDir} {
		loaded, err := loadDir(dir)
		if err != nil {
			return nil, err
		}
		for _, sk := range loaded {
			if _, exists := byName[sk.Name]; !exists {
				order = append(order, sk.Name)
			}
			byName[sk.Name] = sk
		}
	}

	out := make([]Skill, 0, len(order))
	for _, name := range order {
		out = append(out, byName[name])
	}
	return out, nil
}

func loadDir(skillDir string) ([]Skill, error) {
	skillDir = strings.TrimSpace(skillDir)
	if skillDir == "" {
		return nil, nil
	}

	info, err := os.Stat(skillDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("stat skills dir %q: %w", skillDir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("skills path is not a directory: %s", skillDir)
	}

	entries, err := os.ReadDir(skillDir)
	if err != nil {
		return nil, fmt.Errorf("read skills dir %q: %w", skillDir, err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	skills := make([]Skill, 0, len(entries))
	seen := make(map[string]string, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		skillPath := filepath.Join(skillDir, entry.Name(), skillFileName)
		sk, skip, parseErr := parseSkillFile(skillPath)
		if parseErr != nil {
			return nil, parseErr
		}
		if skip {
			continue
		}

		if prevPath, exists := seen[sk.Name]; exists {
			return nil, fmt.Errorf("duplicate skill name %q in %s (already in %s)", sk.Name, skillPath, prevPath)
		}
		seen[sk.Name] = skillPath
		skills = append(skills, sk)
	}

	return skills, nil
}

func parseSkillFile(path string) (Skill, bool, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Skill{}, true, nil
		}
		return Skill{}, false, fmt.Errorf("read skill %q: %w", path, err)
	}

	meta, body, err := parseFrontmatter(content)
	if err != nil {
		if errors.Is(err, errInvalidSkillYAML) {
			log.Printf("[skills] warning: skip invalid YAML skill %s: %v", path, err)
			return Skill{}, true, nil
		}
		return Skill{}, false, fmt.Errorf("parse skill %q: %w", path, err)
	}
	if strings.TrimSpace(meta.Name) == "" {
		return Skill{}, false, fmt.Errorf("parse skill %q: missing name", path)
	}

	return Skill{
		Name:        strings.TrimSpace(meta.Name),
		Description: strings.TrimSpace(meta.Description),
		Keywords:    sanitizeKeywords(meta.Keywords),
		Body:        strings.TrimSpace(body),
		Path:        path,
	}, false, nil
}

func parseFrontmatter(content []byte) (skillFrontmatter, string, error) {
	text := strings.TrimPrefix(string(content), "\uFEFF")
	lines := strings.Split(text, "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != "---" {
		return skillFrontmatter{}, "", errors.New("missing YAML frontmatter")
	}

	end := -1
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			end = i
			break
		}
	}
	if end == -1 {
		return skillFrontmatter{}, "", errors.New("missing closing frontmatter separator")
	}

	frontmatter := strings.Join(lines[1:end], "\n")
	body := strings.Join(lines[end+1:], "\n")

	var meta skillFrontmatter
	if err := yaml.Unmarshal([]byte(frontmatter), &meta); err != nil {
		return skillFrontmatter{}, "", fmt.Errorf("%w: %v", errInvalidSkillYAML, err)
	}

	return meta, body, nil
}

func sanitizeKeywords(keywords []string) []string {
	if len(keywords) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(keywords))
	out := make([]string, 0, len(keywords))
	for _, keyword := range keywords {
		normalized := strings.ToLower(strings.TrimSpace(keyword))
		if normalized == "" {
			continue
		}
		if _, exists := seen[normalized]; exists {
			continue
		}
		seen[normalized] = struct{}{}
		out = append(out, normalized)
	}
	if len(out) == 0 {
		return nil
	}
	sort.Strings(out)

	return out
}

// FormatForPrompt renders the loaded skills as a system prompt section.
// Returns "" when no skills are loaded.
func FormatForPrompt(skills []Skill) string {
	if len(skills) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("## Skills\n")
	for _, sk := range skills {
		b.WriteString("\n### ")
		b.WriteString(sk.Name)
		b.WriteString("\n")
		if sk.Description != "" {
			b.WriteString(sk.Description)
			b.WriteString("\n")
		}
		if sk.Body != "" {
			b.WriteString(sk.Body)
			b.WriteString("\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
