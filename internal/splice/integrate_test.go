package splice

import (
	"strings"
	"testing"
)

const unitSource = `package com.example;

import java.util.List;
import static org.junit.jupiter.api.Assertions.assertTrue;

public class CartTest {

    @Test
    public void addsItem() {
        cart.add(item);
    }

    @Test
    public void emptiesCart() {
        cart.clear();
        assertTrue(cart.isEmpty());
    }
}
`

const rewrite = `@Test
public void addsItem() {
    cart.add(item);
    assertEquals(1, cart.size());
}`

func TestApplyReplace(t *testing.T) {
	out, err := Apply(unitSource, "addsItem", rewrite,
		[]string{"static org.junit.jupiter.api.Assertions.assertEquals"}, Replace)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if strings.Count(out, "void addsItem()") != 1 {
		t.Fatalf("original method must be replaced, not duplicated:\n%s", out)
	}
	if !strings.Contains(out, "assertEquals(1, cart.size());") {
		t.Fatal("rewrite body missing")
	}
	if !strings.Contains(out, "import static org.junit.jupiter.api.Assertions.assertEquals;") {
		t.Fatal("new import missing")
	}
	if !strings.Contains(out, "void emptiesCart()") {
		t.Fatal("neighboring method damaged")
	}
}

func TestApplyReplaceIndentsRewrite(t *testing.T) {
	out, err := Apply(unitSource, "addsItem", rewrite, nil, Replace)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if !strings.Contains(out, "\n    @Test\n    public void addsItem()") {
		t.Fatalf("rewrite must sit at the original indentation:\n%s", out)
	}
}

func TestApplyReview(t *testing.T) {
	out, err := Apply(unitSource, "addsItem", rewrite, nil, Review)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if !strings.Contains(out, "cart.add(item);\n    }") {
		t.Fatal("original method must be kept in review mode")
	}
	if !strings.Contains(out, "void addsItem_refactored()") {
		t.Fatalf("renamed rewrite missing:\n%s", out)
	}
	if !strings.Contains(out, "// ===== Proposed rewrite of addsItem") ||
		!strings.Contains(out, "// ===== End of proposed rewrite of addsItem") {
		t.Fatal("review banners missing")
	}
	origIdx := strings.Index(out, "void addsItem()")
	renamedIdx := strings.Index(out, "void addsItem_refactored()")
	if origIdx < 0 || renamedIdx < origIdx {
		t.Fatal("rewrite must follow the original")
	}
}

func TestApplyLocateErrorsPassThrough(t *testing.T) {
	if _, err := Apply(unitSource, "missing", rewrite, nil, Replace); err == nil {
		t.Fatal("expected locate error")
	}
}

func TestRenameDeclarationLeavesCallsAlone(t *testing.T) {
	snippet := `@Test
public void checkout() {
    other.checkout();
    checkoutHelper();
}`
	got := renameDeclaration(snippet, "checkout", "checkout_refactored")
	if !strings.Contains(got, "void checkout_refactored()") {
		t.Fatalf("declaration not renamed:\n%s", got)
	}
	if !strings.Contains(got, "other.checkout();") {
		t.Fatal("qualified call must stay untouched")
	}
	if !strings.Contains(got, "checkoutHelper();") {
		t.Fatal("longer identifier must stay untouched")
	}
}
