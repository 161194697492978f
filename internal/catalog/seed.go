package catalog

import (
	"context"

	"github.com/MarcoPoloResearchLab/bibli/backend/internal/users"
)

// SeedThreshold is the catalog size at which the seed command stops adding samples.
const SeedThreshold = 8

// SampleListings returns the development catalog inserted by the seed command.
func SampleListings() []Listing {
	return []Listing{
		{Title: "村上春樹 ノルウェイの森", Description: "村上春樹の代表作。綺麗な状態です。", Price: 800, Condition: "excellent", SaleType: "fixed", Category: "小説", Tags: []string{"村上春樹", "文学"}},
		{Title: "東野圭吾 白夜行", Description: "推理小説の名作。少し使用感がありますが読むには問題ありません。", Price: 950, Condition: "good", SaleType: "fixed", Category: "小説", Tags: []string{"ミステリー", "東野圭吾"}},
		{Title: "JavaScript完全ガイド", Description: "プログラミング学習に最適な一冊。", Price: 2800, Condition: "excellent", SaleType: "fixed", Category: "専門書", Tags: []string{"javascript", "プログラミング"}},
		{Title: "ワンピース 1-100巻セット", Description: "人気漫画の全巻セット。", Price: 15000, Condition: "good", SaleType: "negotiable", Category: "漫画", Tags: []string{"ワンピース", "全巻セット"}},
		{Title: "夏目漱石作品集", Description: "日本文学の古典。状態良好です。", Price: 1200, Condition: "excellent", SaleType: "fixed", Category: "小説", Tags: []string{"夏目漱石", "文学"}},
		{Title: "Python入門書", Description: "プログラミング初心者向けの入門書。", Price: 2200, Condition: "good", SaleType: "fixed", Category: "専門書", Tags: []string{"python", "プログラミング"}},
		{Title: "ハリー・ポッターシリーズ全巻", Description: "ファンタジー小説の名作。", Price: 5800, Condition: "good", SaleType: "fixed", Category: "小説", Tags: []string{"ファンタジー", "全巻セット"}},
		{Title: "ビジネス書セット 5冊", Description: "自己啓発・ビジネス書のセット。", Price: 3200, Condition: "fair", SaleType: "fixed", Category: "ビジネス書", Tags: []string{"ビジネス"}},
	}
}

// SeedSamples lists the sample catalog for seller unless the catalog already
// holds SeedThreshold products. It returns how many listings it created.
func (s *Service) SeedSamples(ctx context.Context, seller users.User) (int, error) {
	existing, err := s.Count(ctx)
	if err != nil {
		return 0, err
	}
	if existing >= SeedThreshold {
		return 0, nil
	}
	created := 0
	for _, listing := range SampleListings() {
		if _, err := s.CreateListing(ctx, seller, listing); err != nil {
			return created, err
		}
		created++
	}
	return created, nil
}
