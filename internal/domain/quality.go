package domain

// QualityOption describes one selectable download quality preset.
type QualityOption struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Format      string `json:"format"`
	AudioOnly   bool   `json:"audioOnly"`
	Description string `json:"description"`
}
