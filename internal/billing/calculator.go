package billing

import (
	"math"

	"flashcard-server/internal/models"
)

// Ставки расчета стоимости в кредитах. Стоимость считается за блоки
// по 10000 токенов документа, дробная часть блока оплачивается
// пропорционально.
const (
	TokensPerUnit = 10000.0

	IndexingRate = 0.5 // кредитов за 10k токенов на этапе анализа
	CreationRate = 1.2 // кредитов за 10k токенов на этапе генерации

	MinIndexingCost = 1.0
	MinCreationCost = 1.0
)

// Фиксированные тарифы legacy-задач без разбивки на главы.
var legacyFlatFees = map[models.SourceType]float64{
	models.SourceTypeText:  1.0,
	models.SourceTypeFile:  2.0,
	models.SourceTypeURL:   2.0,
	models.SourceTypeVideo: 3.0,
}

// IndexingCost - стоимость построения оглавления документа.
func IndexingCost(totalTokens int) float64 {
	return costFor(totalTokens, IndexingRate, MinIndexingCost)
}

// CreationCost - стоимость генерации карточек по выбранным главам.
// Токены считаются только по тексту выбранных глав, не всего документа.
func CreationCost(selectedTokens int) float64 {
	return costFor(selectedTokens, CreationRate, MinCreationCost)
}

// LegacyFlatFee - фиксированная стоимость legacy-задачи по типу источника.
// Неизвестный тип тарифицируется как text.
func LegacyFlatFee(source models.SourceType) float64 {
	if fee, ok := legacyFlatFees[source]; ok {
		return fee
	}
	return legacyFlatFees[models.SourceTypeText]
}

// costFor применяет ставку и нижнюю границу. Результат усекается
// (не округляется) до двух знаков, чтобы не списывать больше расчетного.
func costFor(tokens int, rate, minCost float64) float64 {
	cost := float64(tokens) / TokensPerUnit * rate
	// Эпсилон гасит двоичную погрешность (10500*1.2/1e4 дает 1.2599...9),
	// не влияя на честное усечение вроде 1.26996 -> 1.26.
	cost = math.Trunc(cost*100+1e-9) / 100
	if cost < minCost {
		return minCost
	}
	return cost
}
