package rag

import (
	"testing"

	"github.com/andresfranco/portfolio-suite-sub002/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func desiredChunk(field string, part int, text string) plannedChunk {
	return plannedChunk{
		Field:     field,
		PartIndex: part,
		Text:      text,
		Checksum:  checksum(text),
	}
}

func existingChunk(id uint, field string, part int, text string) models.RagChunk {
	return models.RagChunk{
		ChunkID:     id,
		SourceField: field,
		PartIndex:   part,
		Version:     1,
		Text:        text,
		Checksum:    checksum(text),
	}
}

func TestPlanSlotsFreshInsert(t *testing.T) {
	desired := []plannedChunk{
		desiredChunk("description", 0, "alpha"),
		desiredChunk("description", 1, "beta"),
	}

	plan := planSlots(nil, desired)
	assert.Len(t, plan.Inserts, 2)
	assert.Empty(t, plan.Updates)
	assert.Empty(t, plan.Retires)
	assert.Equal(t, 0, plan.Skipped)
}

func TestPlanSlotsIdempotent(t *testing.T) {
	existing := []models.RagChunk{
		existingChunk(1, "description", 0, "alpha"),
		existingChunk(2, "description", 1, "beta"),
	}
	desired := []plannedChunk{
		desiredChunk("description", 0, "alpha"),
		desiredChunk("description", 1, "beta"),
	}

	// 内容未变时产出空计划
	plan := planSlots(existing, desired)
	assert.Empty(t, plan.Inserts)
	assert.Empty(t, plan.Updates)
	assert.Empty(t, plan.Retires)
	assert.Equal(t, 2, plan.Skipped)
}

func TestPlanSlotsUpdateChangedSlot(t *testing.T) {
	existing := []models.RagChunk{
		existingChunk(1, "description", 0, "alpha"),
		existingChunk(2, "description", 1, "beta"),
	}
	desired := []plannedChunk{
		desiredChunk("description", 0, "alpha"),
		desiredChunk("description", 1, "beta changed"),
	}

	plan := planSlots(existing, desired)
	assert.Empty(t, plan.Inserts)
	require.Len(t, plan.Updates, 1)
	assert.Equal(t, uint(2), plan.Updates[0].Old.ChunkID)
	assert.Equal(t, checksum("beta changed"), plan.Updates[0].New.Checksum)
	assert.Equal(t, 1, plan.Skipped)
}

func TestPlanSlotsRetireShrunkRecord(t *testing.T) {
	existing := []models.RagChunk{
		existingChunk(1, "description", 0, "alpha"),
		existingChunk(2, "description", 1, "beta"),
		existingChunk(3, "description", 2, "gamma"),
	}
	desired := []plannedChunk{
		desiredChunk("description", 0, "alpha"),
	}

	// 文本变短后尾部槽位退役
	plan := planSlots(existing, desired)
	assert.Empty(t, plan.Inserts)
	assert.Empty(t, plan.Updates)
	require.Len(t, plan.Retires, 2)
	assert.Equal(t, 1, plan.Skipped)
}

func TestPlanSlotsSeparateFields(t *testing.T) {
	existing := []models.RagChunk{
		existingChunk(1, "name", 0, "old name"),
	}
	desired := []plannedChunk{
		desiredChunk("name", 0, "old name"),
		desiredChunk("about", 0, "new about section"),
	}

	// 不同字段是独立槽位
	plan := planSlots(existing, desired)
	require.Len(t, plan.Inserts, 1)
	assert.Equal(t, "about", plan.Inserts[0].Field)
	assert.Empty(t, plan.Retires)
}

func TestChecksumStable(t *testing.T) {
	assert.Equal(t, checksum("hello"), checksum("hello"))
	assert.NotEqual(t, checksum("hello"), checksum("hello "))
	assert.Len(t, checksum("hello"), 64)
}
