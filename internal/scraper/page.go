package scraper

// In-page scripts. Google Maps renders reviews client-side with obfuscated
// class names; the selectors below are the stable-ish ones the place page
// has used for a long time (jftiEf review card, d4r55 reviewer, kvMYJc
// stars, rsqaWe relative date, wiI7pd text, w8nwRe "More" button). Every
// script is a self-contained IIFE returning a JSON-friendly value.

const consentJS = `(() => {
	const labels = /accept all|i agree|agree to all|consent/i;
	const btns = Array.from(document.querySelectorAll('button'));
	const hit = btns.find(b =>
		labels.test(b.textContent || '') || labels.test(b.getAttribute('aria-label') || ''));
	if (hit) { hit.click(); return true; }
	return false;
})()`

const businessInfoJS = `(() => {
	const text = sel => {
		const el = document.querySelector(sel);
		return el ? (el.textContent || '').trim() : '';
	};
	const name = text('h1.DUwDvf') || text('h1');
	const rating = text('div.F7nice span[aria-hidden="true"]');
	let reviews = '';
	const countEl = document.querySelector('div.F7nice span[aria-label*="review" i]');
	if (countEl) reviews = countEl.getAttribute('aria-label') || countEl.textContent || '';
	return { name, rating, reviews };
})()`

const openReviewsTabJS = `(() => {
	const tabs = Array.from(document.querySelectorAll('button[role="tab"]'));
	const tab = tabs.find(t =>
		/review/i.test(t.getAttribute('aria-label') || '') || /review/i.test(t.textContent || ''));
	if (tab && tab.getAttribute('aria-selected') !== 'true') { tab.click(); return true; }
	return false;
})()`

const openSortMenuJS = `(() => {
	const btns = Array.from(document.querySelectorAll('button'));
	const sort = btns.find(b =>
		/sort/i.test(b.getAttribute('aria-label') || '') || /sort/i.test(b.getAttribute('data-value') || ''));
	if (sort) { sort.click(); return true; }
	return false;
})()`

const pickNewestJS = `(() => {
	const items = Array.from(document.querySelectorAll(
		'div[role="menuitemradio"], li[role="menuitemradio"], div[role="menuitem"]'));
	const newest = items.find(i => /newest/i.test(i.textContent || ''));
	if (newest) { newest.click(); return true; }
	return false;
})()`

const countReviewsJS = `document.querySelectorAll('div.jftiEf').length`

const lastReviewDateJS = `(() => {
	const blocks = document.querySelectorAll('div.jftiEf');
	if (!blocks.length) return '';
	const el = blocks[blocks.length - 1].querySelector('.rsqaWe');
	return el ? (el.textContent || '').trim() : '';
})()`

const scrollFeedJS = `(() => {
	const feed = document.querySelector('div[role="feed"]');
	if (!feed) { window.scrollBy(0, 2000); return false; }
	feed.scrollTop = feed.scrollHeight;
	return true;
})()`

const expandMoreJS = `(() => {
	const btns = Array.from(document.querySelectorAll('button.w8nwRe'));
	btns.forEach(b => b.click());
	return btns.length;
})()`

const extractReviewsJS = `(() => {
	const pick = (root, sel) => {
		const el = root.querySelector(sel);
		return el ? (el.textContent || '').trim() : '';
	};
	return Array.from(document.querySelectorAll('div.jftiEf')).map(b => {
		const stars = b.querySelector('.kvMYJc');
		return {
			name: pick(b, '.d4r55'),
			rating: stars ? (stars.getAttribute('aria-label') || '') : '',
			when: pick(b, '.rsqaWe'),
			text: pick(b, '.wiI7pd'),
			photos: b.querySelectorAll('.KtCyie img, button[aria-label*="photo" i] img').length,
		};
	});
})()`
