package api

import "github.com/release-engineering/iib-sub001/pkg/iiberrors"

// ParseAddRequest validates and constructs an AddRequest payload (spec
// section 4.7 item 2 and the recognized-options table in section 6).
func ParseAddRequest(payload map[string]interface{}, priv UserPrivileges) (*AddRequest, error) {
	if err := checkUnknownKeys(TypeAdd, payload); err != nil {
		return nil, err
	}

	bundles, err := getStringSlice(payload, "bundles")
	if err != nil {
		return nil, err
	}
	fromIndex, hasFromIndex := getString(payload, "from_index")
	addArches, err := getStringSlice(payload, "add_arches")
	if err != nil {
		return nil, err
	}

	if len(bundles) == 0 && !hasFromIndex && len(addArches) == 0 {
		return nil, iiberrors.Validationf("one of bundles or from_index or add_arches is required")
	}
	if !hasFromIndex && len(addArches) == 0 {
		return nil, iiberrors.Validationf("from_index is required when add_arches is not specified")
	}
	if _, ok := getString(payload, "binary_image"); !ok {
		return nil, iiberrors.Validationf("binary_image is required")
	}

	overwrite, token, err := validateOverwrite(payload, priv)
	if err != nil {
		return nil, err
	}
	scope, err := validateDistributionScope(payload)
	if err != nil {
		return nil, err
	}
	graphMode, err := validateGraphUpdateMode(payload)
	if err != nil {
		return nil, err
	}
	deprecationList, err := getStringSlice(payload, "deprecation_list")
	if err != nil {
		return nil, err
	}
	buildTags, err := getStringSlice(payload, "build_tags")
	if err != nil {
		return nil, err
	}
	org, _ := getString(payload, "organization")
	cnrToken, _ := getString(payload, "cnr_token")
	binaryImage, _ := getString(payload, "binary_image")

	req := &AddRequest{
		CommonRequest: CommonRequest{
			Type:         TypeAdd,
			BinaryImage:  binaryImage,
			BuildTags:    buildTags,
		},
		FromIndex:               fromIndex,
		Bundles:                 bundles,
		Organization:            org,
		DistributionScope:       scope,
		DeprecationBundles:      deprecationList,
		ForceBackport:           getBool(payload, "force_backport"),
		CNRToken:                cnrToken,
		GraphUpdateMode:         graphMode,
		CheckRelatedImages:      getBool(payload, "check_related_images"),
		OverwriteFromIndex:      overwrite,
		OverwriteFromIndexToken: token,
	}
	req.Arches = addArches
	return req, nil
}

// ParseRMRequest validates and constructs an RMRequest payload.
func ParseRMRequest(payload map[string]interface{}, priv UserPrivileges) (*RMRequest, error) {
	if err := checkUnknownKeys(TypeRM, payload); err != nil {
		return nil, err
	}
	if err := requireAll(payload, "operators", "binary_image", "from_index"); err != nil {
		return nil, err
	}
	operators, err := getStringSlice(payload, "operators")
	if err != nil {
		return nil, err
	}
	if len(operators) == 0 {
		return nil, iiberrors.Validationf("operators must be a non-empty list")
	}
	addArches, err := getStringSlice(payload, "add_arches")
	if err != nil {
		return nil, err
	}
	overwrite, token, err := validateOverwrite(payload, priv)
	if err != nil {
		return nil, err
	}
	scope, err := validateDistributionScope(payload)
	if err != nil {
		return nil, err
	}
	buildTags, err := getStringSlice(payload, "build_tags")
	if err != nil {
		return nil, err
	}
	fromIndex, _ := getString(payload, "from_index")
	binaryImage, _ := getString(payload, "binary_image")

	return &RMRequest{
		CommonRequest: CommonRequest{
			Type:        TypeRM,
			BinaryImage: binaryImage,
			BuildTags:   buildTags,
			Arches:      addArches,
		},
		FromIndex:               fromIndex,
		Operators:               operators,
		DistributionScope:       scope,
		OverwriteFromIndex:      overwrite,
		OverwriteFromIndexToken: token,
	}, nil
}

// ParseRegenerateBundleRequest validates and constructs a
// RegenerateBundleRequest payload.
func ParseRegenerateBundleRequest(payload map[string]interface{}) (*RegenerateBundleRequest, error) {
	if err := checkUnknownKeys(TypeRegenerateBundle, payload); err != nil {
		return nil, err
	}
	if err := requireAll(payload, "from_bundle_image"); err != nil {
		return nil, err
	}
	replacements, err := getStringMap(payload, "bundle_replacements")
	if err != nil {
		return nil, err
	}
	fromBundleImage, _ := getString(payload, "from_bundle_image")
	org, _ := getString(payload, "organization")
	relatedBundlesURL, _ := getString(payload, "related_bundles_url")

	return &RegenerateBundleRequest{
		CommonRequest:      CommonRequest{Type: TypeRegenerateBundle},
		FromBundleImage:    fromBundleImage,
		BundleReplacements: replacements,
		Organization:       org,
		RelatedBundlesURL:  relatedBundlesURL,
	}, nil
}

// ParseMergeIndexImageRequest validates and constructs a
// MergeIndexImageRequest payload.
func ParseMergeIndexImageRequest(payload map[string]interface{}, priv UserPrivileges) (*MergeIndexImageRequest, error) {
	if err := checkUnknownKeys(TypeMergeIndexImage, payload); err != nil {
		return nil, err
	}
	if err := requireAll(payload, "source_from_index", "target_index", "binary_image"); err != nil {
		return nil, err
	}
	deprecationList, err := getStringSlice(payload, "deprecation_list")
	if err != nil {
		return nil, err
	}
	addArches, err := getStringSlice(payload, "add_arches")
	if err != nil {
		return nil, err
	}
	buildTags, err := getStringSlice(payload, "build_tags")
	if err != nil {
		return nil, err
	}
	overwrite, token, err := validateOverwriteTarget(payload, priv)
	if err != nil {
		return nil, err
	}
	scope, err := validateDistributionScope(payload)
	if err != nil {
		return nil, err
	}
	sourceFromIndex, _ := getString(payload, "source_from_index")
	targetIndex, _ := getString(payload, "target_index")
	binaryImage, _ := getString(payload, "binary_image")

	return &MergeIndexImageRequest{
		CommonRequest: CommonRequest{
			Type:        TypeMergeIndexImage,
			BinaryImage: binaryImage,
			BuildTags:   buildTags,
			Arches:      addArches,
		},
		SourceFromIndex:           sourceFromIndex,
		TargetIndex:               targetIndex,
		DeprecationList:           deprecationList,
		IgnoreBundleOCPVersion:    getBool(payload, "ignore_bundle_ocp_version"),
		DistributionScope:         scope,
		OverwriteTargetIndex:      overwrite,
		OverwriteTargetIndexToken: token,
	}, nil
}

// ParseCreateEmptyIndexRequest validates and constructs a
// CreateEmptyIndexRequest payload.
func ParseCreateEmptyIndexRequest(payload map[string]interface{}) (*CreateEmptyIndexRequest, error) {
	if err := checkUnknownKeys(TypeCreateEmptyIndex, payload); err != nil {
		return nil, err
	}
	if err := requireAll(payload, "from_index", "binary_image"); err != nil {
		return nil, err
	}
	labels, err := getStringMap(payload, "labels")
	if err != nil {
		return nil, err
	}
	fromIndex, _ := getString(payload, "from_index")
	binaryImage, _ := getString(payload, "binary_image")

	return &CreateEmptyIndexRequest{
		CommonRequest: CommonRequest{Type: TypeCreateEmptyIndex, BinaryImage: binaryImage},
		FromIndex:     fromIndex,
		Labels:        labels,
		OutputFBC:     getBool(payload, "output_fbc"),
	}, nil
}

// ParseFBCOperationsRequest validates and constructs an
// FBCOperationsRequest payload.
func ParseFBCOperationsRequest(payload map[string]interface{}) (*FBCOperationsRequest, error) {
	if err := checkUnknownKeys(TypeFBCOperations, payload); err != nil {
		return nil, err
	}
	if err := requireAll(payload, "fbc_fragments", "from_index", "binary_image"); err != nil {
		return nil, err
	}
	fragments, err := getStringSlice(payload, "fbc_fragments")
	if err != nil {
		return nil, err
	}
	if len(fragments) == 0 {
		return nil, iiberrors.Validationf("fbc_fragments must be a non-empty list")
	}
	addArches, err := getStringSlice(payload, "add_arches")
	if err != nil {
		return nil, err
	}
	buildTags, err := getStringSlice(payload, "build_tags")
	if err != nil {
		return nil, err
	}
	scope, err := validateDistributionScope(payload)
	if err != nil {
		return nil, err
	}
	fromIndex, _ := getString(payload, "from_index")
	binaryImage, _ := getString(payload, "binary_image")

	return &FBCOperationsRequest{
		CommonRequest: CommonRequest{
			Type:        TypeFBCOperations,
			BinaryImage: binaryImage,
			BuildTags:   buildTags,
			Arches:      addArches,
		},
		FromIndex:         fromIndex,
		FBCFragments:      fragments,
		UsedFBCFragment:   true,
		DistributionScope: scope,
	}, nil
}

// ParseAddDeprecationsRequest validates and constructs an
// AddDeprecationsRequest payload.
func ParseAddDeprecationsRequest(payload map[string]interface{}) (*AddDeprecationsRequest, error) {
	if err := checkUnknownKeys(TypeAddDeprecations, payload); err != nil {
		return nil, err
	}
	if err := requireAll(payload, "from_index", "binary_image", "operators", "deprecation_schemas"); err != nil {
		return nil, err
	}
	operators, err := getStringSlice(payload, "operators")
	if err != nil {
		return nil, err
	}
	schemas, err := getStringSlice(payload, "deprecation_schemas")
	if err != nil {
		return nil, err
	}
	if len(operators) != len(schemas) {
		return nil, iiberrors.Validationf("operators and deprecation_schemas must be the same length")
	}
	fromIndex, _ := getString(payload, "from_index")
	binaryImage, _ := getString(payload, "binary_image")

	return &AddDeprecationsRequest{
		CommonRequest:      CommonRequest{Type: TypeAddDeprecations, BinaryImage: binaryImage},
		FromIndex:          fromIndex,
		Operators:          operators,
		DeprecationSchemas: schemas,
	}, nil
}

// ParseRecursiveRelatedBundlesRequest validates and constructs the
// supplemented recursive-related-bundles request payload.
func ParseRecursiveRelatedBundlesRequest(payload map[string]interface{}) (*RecursiveRelatedBundlesRequest, error) {
	if err := checkUnknownKeys(TypeRecursiveRelatedBundles, payload); err != nil {
		return nil, err
	}
	if err := requireAll(payload, "from_bundle_image"); err != nil {
		return nil, err
	}
	fromBundleImage, _ := getString(payload, "from_bundle_image")
	org, _ := getString(payload, "organization")

	return &RecursiveRelatedBundlesRequest{
		CommonRequest:   CommonRequest{Type: TypeRecursiveRelatedBundles},
		FromBundleImage: fromBundleImage,
		Organization:    org,
	}, nil
}
