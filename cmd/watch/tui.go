// Copyright 2025 Arion Yau
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package watch

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbletea"
)

const pollInterval = 2 * time.Second

type tickMsg time.Time

type snapshotMsg struct {
	snapshot *Snapshot
	err      error
}

// Live status view polling the bridge API
type model struct {
	client   *Client
	snapshot *Snapshot
	err      error
	width    int
	height   int
	quitting bool
}

func initialModel(client *Client) model {
	return model{client: client}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.fetch(), tick())
}

func tick() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m model) fetch() tea.Cmd {
	client := m.client
	return func() tea.Msg {
		snapshot, err := client.Fetch()
		return snapshotMsg{snapshot: snapshot, err: err}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		case "r":
			return m, m.fetch()
		}

	case tickMsg:
		return m, tea.Batch(m.fetch(), tick())

	case snapshotMsg:
		if msg.err != nil {
			m.err = msg.err
		} else {
			m.err = nil
			m.snapshot = msg.snapshot
		}
		return m, nil
	}

	return m, nil
}

func (m model) View() string {
	if m.quitting {
		return successStyle.Render("Bye!") + "\n"
	}

	view := titleStyle.Render("Cabana Bridge") + "\n\n"

	if m.err != nil {
		view += errorStyle.Render("Error: "+m.err.Error()) + "\n\n"
		view += helpStyle.Render("r: retry • q: quit") + "\n"
		return view
	}
	if m.snapshot == nil {
		view += helpStyle.Render("Connecting to bridge API...") + "\n"
		return view
	}

	view += m.renderSession() + "\n"
	view += m.renderEntities() + "\n"
	view += helpStyle.Render(fmt.Sprintf("updated %s • r: refresh • q: quit",
		m.snapshot.At.Format("15:04:05"))) + "\n"
	return view
}

func (m model) renderSession() string {
	stats := m.snapshot.Stats

	connection := errorStyle.Render("DISCONNECTED")
	if connected, ok := stats["connected"].(bool); ok && connected {
		connection = successStyle.Render("CONNECTED")
	}

	out := subtitleStyle.Render("Session") + "\n"
	out += fmt.Sprintf("  %s %v  %s\n", labelStyle.Render("panel:"), stats["address"], connection)
	out += fmt.Sprintf("  %s %v  %s %v  %s %v\n",
		labelStyle.Render("discovery:"), stats["discovery_state"],
		labelStyle.Render("breaker:"), stats["breaker_state"],
		labelStyle.Render("queue:"), stats["queue_size"])
	out += fmt.Sprintf("  %s %v  %s %v\n",
		labelStyle.Render("dead letters:"), stats["dead_letters"],
		labelStyle.Render("parse errors:"), stats["parse_errors"])
	return out
}

func (m model) renderEntities() string {
	out := subtitleStyle.Render(fmt.Sprintf("Entities (%d)", len(m.snapshot.Entities))) + "\n"
	for _, entity := range m.snapshot.Entities {
		status := offStyle.Render(entity.Status)
		if entity.Status == "ON" {
			status = onStyle.Render(entity.Status)
		}
		name := entity.Name
		if name == "" {
			name = entity.ObjectName
		}
		line := fmt.Sprintf("  %-10s %-20s %s", entity.ObjectName, name, status)
		if entity.Probe != nil {
			line += fmt.Sprintf("  %s %.1f", labelStyle.Render("probe:"), *entity.Probe)
		}
		if entity.LowSetpoint != nil {
			line += fmt.Sprintf("  %s %.1f", labelStyle.Render("lotmp:"), *entity.LowSetpoint)
		}
		out += line + "\n"
	}
	if len(m.snapshot.Entities) == 0 {
		out += helpStyle.Render("  no entities discovered yet") + "\n"
	}
	return out
}

// StartTUI runs the live status view against a bridge API base URL
func StartTUI(baseURL string) error {
	p := tea.NewProgram(
		initialModel(NewClient(baseURL)),
		tea.WithAltScreen(),
	)

	_, err := p.Run()
	return err
}
