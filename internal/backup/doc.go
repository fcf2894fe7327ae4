// Package backup manages the persistent originals kept next to transcoded
// files, including discovery, restore with a safety copy, and deletion.
package backup
