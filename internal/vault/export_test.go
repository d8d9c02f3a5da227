package vault

// SetFailBeforeCommit installs a crash-injection hook invoked between
// staging and rename. Test-only.
func (s *Store) SetFailBeforeCommit(f func() error) {
	s.failBeforeCommit = f
}
