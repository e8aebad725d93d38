//go:build libreoffice

package previews

func init() {
	compiledFeatures[FeatureLibreOffice] = true
}
