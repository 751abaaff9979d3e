package bot

import (
	"sort"
	"strings"
)

func (r *Router) helpText() string {
	r.mu.RLock()
	cmds := append([]Command(nil), r.list...)
	r.mu.RUnlock()
	sort.SliceStable(cmds, func(i, j int) bool { return cmds[i].Name < cmds[j].Name })

	var b strings.Builder
	b.WriteString("<b>Commands</b>\n")
	for _, c := range cmds {
		usage := c.Usage
		if usage == "" {
			usage = "/" + c.Name
		}
		b.WriteString("<code>")
		b.WriteString(escape(usage))
		b.WriteString("</code>")
		if c.Description != "" {
			b.WriteString(" · ")
			b.WriteString(escape(c.Description))
		}
		b.WriteString("\n")
	}
	b.WriteString("\nUpload a <code>.txt</code> file with one phrase per line (numbered or bulleted) to add a source.")
	return b.String()
}
