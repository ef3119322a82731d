// Package archive implements the gzip-compressed tar format used for
// vendor configuration snapshots, along with containment-checked
// extraction that prevents archive members from escaping a destination
// root via path traversal or link targets.
package archive
