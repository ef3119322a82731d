// Package gitsync synchronizes vendor configuration trees against a
// remote git repository. Only paths named by a vendor's sync policy are
// ever touched; how remote content is reconciled with local content is
// governed by a merge strategy.
package gitsync
