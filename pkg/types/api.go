package types

// PluginInfo is the wire form of a loaded plugin's descriptor.
type PluginInfo struct {
	// Globally unique plugin identifier: manufacturer_name_version.
	// example: edu.hm.hsieh_azureimageclassifier_1.0
	ID string `json:"id"`
	// example: edu.hm.hsieh
	Manufacturer string `json:"manufacturer"`
	// example: hsieh
	Author string `json:"author"`
	// example: azureimageclassifier
	Name string `json:"name"`
	// example: 1.0
	Version string `json:"version"`
	// Human-readable description of what the plugin does.
	Description string `json:"description"`
	// Free-text cost/pricing note.
	PriceDescription string `json:"price_description"`
}

// CreateModelRequest is the body of POST /create_model.
type CreateModelRequest struct {
	// Optional globally unique nickname; models can later be addressed by it.
	Nickname string `json:"nickname,omitempty"`
	// Optional free-text description, immutable after creation.
	Description string `json:"description,omitempty"`
}

// CreateModelResponse is returned on successful model creation.
type CreateModelResponse struct {
	ID int64 `json:"id"`
}

// UploadResponse reports the fate of each file in a multipart upload.
type UploadResponse struct {
	// Saved files: assigned resource id -> original file name.
	OK []map[int64]string `json:"OK"`
	// Files the owning plugin failed to store.
	Failed []string `json:"FAILED"`
	// Files rejected by the extension allow-list.
	NotAllowed []string `json:"NOT-ALLOWED"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// example: no model with given modelID was found
	Error string `json:"error"`
	// example: 404
	Code int `json:"code"`
}
