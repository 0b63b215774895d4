// Package metadata derives searchable fields from report content.
//
// An Extractor holds an ordered list of Fields. A FieldDefinition picks the
// first checkpoint with a given name and runs its message through a chain
// of transforms (regular expression, XPath, CUE path). A StatusField labels
// a report by whether it ended in an abortpoint.
//
// Extractor implements storage.MetadataSource, so both storage backends
// fill its fields into their metadata columns:
//
//	ext, err := metadata.LoadFieldDefinitions("fields.yaml")
//	s := memory.New(memory.WithMetadataSource(ext))
package metadata
