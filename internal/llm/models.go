package llm

// AvailableModels модели, с которыми проверялась персона экскурсовода.
var AvailableModels = []ModelInfo{
	{ID: "gpt-4o-mini", Provider: "openai", Name: "GPT-4o mini"},
	{ID: "gpt-4o", Provider: "openai", Name: "GPT-4o"},
	{ID: "gpt-3.5-turbo", Provider: "openai", Name: "GPT-3.5 Turbo"},
	{ID: "openai/gpt-4o-mini", Provider: "openai", Name: "GPT-4o mini (OpenRouter)"},
	{ID: "gemini-2.0-flash", Provider: "gemini", Name: "Gemini 2.0 Flash"},
	{ID: "gemini-2.5-flash", Provider: "gemini", Name: "Gemini 2.5 Flash"},
}

// ModelInfo описывает информацию о модели.
type ModelInfo struct {
	ID       string // Идентификатор модели для API
	Provider string // openai или gemini
	Name     string // Короткое название для отображения
}

// GetModelByID возвращает информацию о модели по её ID.
// Если модель не найдена, возвращает nil.
func GetModelByID(modelID string) *ModelInfo {
	for _, m := range AvailableModels {
		if m.ID == modelID {
			return &m
		}
	}
	return nil
}

// IsKnownModel проверяет, что модель есть в каталоге и относится к провайдеру.
func IsKnownModel(provider, modelID string) bool {
	info := GetModelByID(modelID)
	return info != nil && info.Provider == provider
}
