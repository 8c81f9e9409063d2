package dto

type SetFlagRequest struct {
	Value *bool `json:"value" validate:"required"`
}

type FlagsResponse struct {
	Flags       map[string]bool `json:"flags"`
	Operational bool            `json:"operational"`
}
