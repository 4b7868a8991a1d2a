package converter

import "github.com/DRSN-tech/product-matcher/internal/domain"

// MatchResultConverter преобразует результат сопоставления между domain и моделью кэша.
type MatchResultConverter interface {
	ToRedisModel(entity *domain.MatchResult) *MatchResultRedisModel
	ToEntity(model *MatchResultRedisModel) *domain.MatchResult
}

type MatchResultConverterImpl struct{}

func (MatchResultConverterImpl) ToRedisModel(entity *domain.MatchResult) *MatchResultRedisModel {
	if entity == nil {
		return nil
	}
	candidates := make([]CandidateRedisModel, 0, len(entity.Candidates))
	for _, c := range entity.Candidates {
		candidates = append(candidates, CandidateRedisModel{
			ProductID: c.ProductID,
			URL:       c.URL,
			Title:     c.Title,
			Score:     c.Score,
		})
	}
	return &MatchResultRedisModel{
		Candidates:   candidates,
		ModelVersion: entity.ModelVersion,
		IndexVersion: entity.IndexVersion,
	}
}

func (MatchResultConverterImpl) ToEntity(model *MatchResultRedisModel) *domain.MatchResult {
	if model == nil {
		return nil
	}
	candidates := make([]domain.Candidate, 0, len(model.Candidates))
	for _, c := range model.Candidates {
		candidates = append(candidates, domain.Candidate{
			ProductID: c.ProductID,
			URL:       c.URL,
			Title:     c.Title,
			Score:     c.Score,
		})
	}
	return &domain.MatchResult{
		Candidates:   candidates,
		ModelVersion: model.ModelVersion,
		IndexVersion: model.IndexVersion,
	}
}
