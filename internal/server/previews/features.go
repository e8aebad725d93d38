package previews

// FeatureLibreOffice gates previewers that need a LibreOffice install.
// Build with -tags libreoffice to enable it.
const FeatureLibreOffice = "libreoffice"

var knownFeatures = map[string]struct{}{
	FeatureLibreOffice: {},
}

// compiledFeatures is filled by build-tagged init functions.
var compiledFeatures = map[string]bool{}

func KnownFeature(name string) bool {
	_, ok := knownFeatures[name]
	return ok
}

func FeatureEnabled(name string) bool {
	return compiledFeatures[name]
}
