//go:build stringer

//go:generate go run golang.org/x/tools/cmd/stringer -linecomment -type GGUFMagic -output zz_generated.ggufmagic.stringer.go -trimprefix GGUFMagic
//go:generate go run golang.org/x/tools/cmd/stringer -linecomment -type GGUFVersion -output zz_generated.ggufversion.stringer.go -trimprefix GGUFVersion
//go:generate go run golang.org/x/tools/cmd/stringer -linecomment -type GGUFMetadataValueType -output zz_generated.ggufmetadatavaluetype.stringer.go -trimprefix GGUFMetadataValueType
//go:generate go run golang.org/x/tools/cmd/stringer -linecomment -type PlacementState -output zz_generated.placementstate.stringer.go -trimprefix PlacementState
package llm_adapter

import _ "golang.org/x/tools/cmd/stringer"
