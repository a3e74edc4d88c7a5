// Package codec parses and serializes the flat KEY=VALUE snapshot file
// format.
//
// Format rules:
//   - Blank lines and lines whose trimmed form starts with '#' are skipped
//   - A data line splits on the first '='
//   - Surrounding matching quotes ("..." or '...') are stripped
//   - A value ending in a trailing backslash continues onto the next line
//   - Serialized values are quoted when they contain a space, quote
//     character, '#', '$' or backslash, with embedded quotes escaped
//
// Parsing is all-or-nothing: either a full valid Snapshot is returned or a
// ParseError carrying the offending line number.
package codec
