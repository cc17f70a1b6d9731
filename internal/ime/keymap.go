package ime

// Action names one coordinator operation a key can trigger.
type Action int

const (
	ActionNone Action = iota
	// ActionInput carries the literal key as payload.
	ActionInput
	ActionCommit
	ActionCancel
	ActionBackspace
	ActionDisable
	ActionNextCandidate
	ActionPrevCandidate
	ActionNextSegment
	ActionPrevSegment
	ActionShrinkSegment
	ActionExtendSegment
)

// Binder is the host-side key registration surface. Installing a keymap
// binds keys on it; uninstalling removes exactly what was installed.
type Binder interface {
	Bind(key string)
	Unbind(key string)
}

// Keymap is the static key-to-action table. Lookups are read-only after
// construction; Install/Uninstall only track which keys were bound on a
// Binder so teardown is an exact inverse of setup.
type Keymap struct {
	bindings  map[string]Action
	installed []string
}

// literalKeys are the keys routed to ActionInput with themselves as payload.
const literalKeys = "abcdefghijklmnopqrstuvwxyz-,.[]/!?~"

// DefaultKeymap returns the standard binding table.
func DefaultKeymap() *Keymap {
	b := map[string]Action{
		"<cr>":      ActionCommit,
		"<esc>":     ActionDisable,
		"<bs>":      ActionBackspace,
		"<c-g>":     ActionCancel,
		"<space>":   ActionNextCandidate,
		"<c-n>":     ActionNextCandidate,
		"<c-p>":     ActionPrevCandidate,
		"<right>":   ActionNextSegment,
		"<left>":    ActionPrevSegment,
		"<s-left>":  ActionShrinkSegment,
		"<s-right>": ActionExtendSegment,
	}
	for _, r := range literalKeys {
		b[string(r)] = ActionInput
	}
	return &Keymap{bindings: b}
}

// Lookup resolves a key to its action. The second return is false for keys
// the input method does not handle.
func (k *Keymap) Lookup(key string) (Action, bool) {
	a, ok := k.bindings[key]
	return a, ok
}

// Install binds every mapped key on b and records the installed set.
func (k *Keymap) Install(b Binder) {
	if len(k.installed) > 0 {
		return
	}
	for key := range k.bindings {
		b.Bind(key)
		k.installed = append(k.installed, key)
	}
}

// Uninstall removes precisely the keys Install bound, in any call order.
func (k *Keymap) Uninstall(b Binder) {
	for _, key := range k.installed {
		b.Unbind(key)
	}
	k.installed = nil
}
